// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

// Watermill relays envelopes through watermill's NATS pub/sub on the same
// subjects as the NATS backend. JetStream stays off and no queue group is
// set, so every node sees every envelope and nothing is replayed.
type Watermill struct {
	publisher  *wmNats.Publisher
	subscriber *wmNats.Subscriber
	prefix     string
}

// NewWatermill connects a publisher and a subscriber to cfg.URL.
func NewWatermill(cfg config.NATSConfig, prefix string) (*Watermill, error) {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())

	natsOpts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.Timeout(cfg.PublishTimeout),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher for %s: %w", cfg.URL, err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   cfg.PublishTimeout,
		CloseTimeout:     cfg.PublishTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create watermill subscriber for %s: %w", cfg.URL, err)
	}

	logging.Info().Str("url", cfg.URL).Str("prefix", prefix).Msg("Watermill relay connected")
	return &Watermill{publisher: pub, subscriber: sub, prefix: prefix}, nil
}

// Topic returns the watermill topic (a NATS subject) for roomID.
func (w *Watermill) Topic(roomID string) string {
	return w.prefix + ".room." + roomID
}

func (w *Watermill) Backend() string {
	return config.RelayWatermill
}

// Publish sends env as one message on its room topic.
func (w *Watermill) Publish(ctx context.Context, env events.Envelope) error {
	data, err := encode(env)
	if err == nil {
		msg := message.NewMessage(watermill.NewUUID(), data)
		msg.Metadata.Set("origin", env.Origin)
		msg.SetContext(ctx)
		err = w.publisher.Publish(w.Topic(env.RoomID), msg)
	}
	metrics.RecordRelay(config.RelayWatermill, "out", err)
	if err != nil {
		return fmt.Errorf("watermill publish %s: %w", env.RoomID, err)
	}
	return nil
}

// Run subscribes to every room topic and delivers until ctx ends. Each
// message is acked once delivered; a bad payload is acked and dropped.
func (w *Watermill) Run(ctx context.Context, deliver Deliver) error {
	msgs, err := w.subscriber.Subscribe(ctx, w.prefix+".room.>")
	if err != nil {
		return fmt.Errorf("watermill subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("watermill subscription closed")
			}
			receive(config.RelayWatermill, msg.Payload, deliver)
			msg.Ack()
		}
	}
}

// Close closes the publisher and the subscriber.
func (w *Watermill) Close() error {
	return errors.Join(w.publisher.Close(), w.subscriber.Close())
}

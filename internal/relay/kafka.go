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

	"github.com/segmentio/kafka-go"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/events"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/metrics"
)

// Kafka relays envelopes through one topic. Messages are keyed by room so
// a room's events stay on one partition and keep their order. Each node
// reads with its own consumer group, so every node sees every envelope.
type Kafka struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	groupID string
}

// NewKafka creates the writer. Brokers are not contacted until the first
// publish or Run.
func NewKafka(cfg config.KafkaConfig, nodeID string) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka relay needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka relay needs a topic")
	}
	if nodeID == "" {
		return nil, errors.New("kafka relay needs a node id")
	}

	log := logging.WithComponent("relay-kafka")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			for range msgs {
				metrics.RecordRelay(config.RelayKafka, "out", err)
			}
			if err != nil {
				log.Warn().Err(err).Int("messages", len(msgs)).Msg("Kafka relay write failed")
			}
		},
	}

	return &Kafka{
		writer:  w,
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
		groupID: GroupID(nodeID),
	}, nil
}

// GroupID is the consumer group for nodeID.
func GroupID(nodeID string) string {
	return "roomsync-relay-" + nodeID
}

func (k *Kafka) Backend() string {
	return config.RelayKafka
}

// Publish queues env on the topic. The write completes asynchronously.
func (k *Kafka) Publish(ctx context.Context, env events.Envelope) error {
	data, err := encode(env)
	if err != nil {
		metrics.RecordRelay(config.RelayKafka, "out", err)
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(env.RoomID), Value: data}); err != nil {
		metrics.RecordRelay(config.RelayKafka, "out", err)
		return fmt.Errorf("kafka publish %s: %w", env.RoomID, err)
	}
	return nil
}

// Run consumes from the latest offset until ctx ends. A read error other
// than cancellation ends Run so the supervisor can restart it.
func (k *Kafka) Run(ctx context.Context, deliver Deliver) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.brokers,
		Topic:       k.topic,
		GroupID:     k.groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
	defer func() {
		_ = r.Close()
	}()

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}
		receive(config.RelayKafka, m.Value, deliver)
	}
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

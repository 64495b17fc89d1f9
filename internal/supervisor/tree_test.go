// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package supervisor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "error",
		Format: "console",
		Output: io.Discard,
	})
}

func newTestTree(t *testing.T, cfg TreeConfig) *SupervisorTree {
	t.Helper()
	tree, err := NewSupervisorTree(logging.NewSlogLogger(), cfg)
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	return tree
}

func waitForStarts(t *testing.T, want int32, svcs ...*MockService) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done := true
		for _, s := range svcs {
			if s.StartCount() < want {
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	for _, s := range svcs {
		if s.StartCount() < want {
			t.Errorf("%s started %d times, want at least %d", s, s.StartCount(), want)
		}
	}
}

func TestNewSupervisorTree_Defaults(t *testing.T) {
	tree := newTestTree(t, TreeConfig{})
	for i, layer := range tree.layers {
		if layer == nil {
			t.Fatalf("layer %s not built", Layer(i))
		}
	}
	if LayerMessaging.String() != "messaging-layer" {
		t.Errorf("LayerMessaging = %q", LayerMessaging)
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults %+v", tree.config, DefaultTreeConfig())
	}
}

func TestTreeConfigFrom(t *testing.T) {
	got := TreeConfigFrom(config.SupervisorConfig{
		FailureThreshold: 3,
		FailureDecay:     10,
		FailureBackoff:   time.Second,
		ShutdownTimeout:  2 * time.Second,
	})
	want := TreeConfig{FailureThreshold: 3, FailureDecay: 10, FailureBackoff: time.Second, ShutdownTimeout: 2 * time.Second}
	if got != want {
		t.Errorf("TreeConfigFrom() = %+v, want %+v", got, want)
	}
}

func TestSupervisorTree_StartsEveryLayer(t *testing.T) {
	tree := newTestTree(t, TreeConfig{ShutdownTimeout: time.Second})

	creditSync := NewMockService("credit-sync")
	capacity := NewMockService("capacity-monitor")
	hub := NewMockService("websocket-hub")
	relay := NewMockService("relay")
	httpSvc := NewMockService("http-server")

	tree.AddDataService(creditSync)
	tree.AddDataService(capacity)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(relay)
	tree.AddAPIService(httpSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	all := []*MockService{creditSync, capacity, hub, relay, httpSvc}
	waitForStarts(t, 1, all...)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	for _, s := range all {
		if s.StopCount() != s.StartCount() {
			t.Errorf("%s: starts=%d stops=%d", s, s.StartCount(), s.StopCount())
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err != nil || len(report) != 0 {
		t.Errorf("UnstoppedServiceReport() = %v, %v", report, err)
	}
}

func TestSupervisorTree_RestartsFailingService(t *testing.T) {
	tree := newTestTree(t, TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	relay := NewMockService("relay")
	relay.SetFailCount(2)
	httpSvc := NewMockService("http-server")
	tree.AddMessagingService(relay)
	tree.AddAPIService(httpSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitForStarts(t, 3, relay)
	if httpSvc.StartCount() != 1 {
		t.Errorf("http-server started %d times, want 1", httpSvc.StartCount())
	}
}

func TestSupervisorTree_DoNotRestart(t *testing.T) {
	tree := newTestTree(t, TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})

	oneShot := NewMockService("one-shot")
	oneShot.SetError(suture.ErrDoNotRestart)
	tree.AddDataService(oneShot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitForStarts(t, 1, oneShot)
	time.Sleep(100 * time.Millisecond)
	if got := oneShot.StartCount(); got != 1 {
		t.Errorf("one-shot started %d times, want 1", got)
	}
}

func TestMockService(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*MockService)
		wantErr error
	}{
		{"runs until canceled", func(*MockService) {}, context.DeadlineExceeded},
		{"scripted failure", func(m *MockService) { m.SetFailCount(1) }, ErrSimulatedFailure},
		{"fixed error", func(m *MockService) { m.SetError(suture.ErrDoNotRestart) }, suture.ErrDoNotRestart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockService("svc")
			tt.setup(svc)
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if err := svc.Serve(ctx); !errors.Is(err, tt.wantErr) {
				t.Errorf("Serve() = %v, want %v", err, tt.wantErr)
			}
			if svc.StartCount() != 1 || svc.StopCount() != 1 {
				t.Errorf("starts=%d stops=%d", svc.StartCount(), svc.StopCount())
			}
		})
	}
}

var _ suture.Service = (*MockService)(nil)

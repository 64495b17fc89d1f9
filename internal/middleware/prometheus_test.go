// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/roomsync/internal/metrics"
)

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/api/v1/presence/{roomId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := metrics.APIRequestsTotal.WithLabelValues("GET", "/api/v1/presence/{roomId}", "200")
	before := testutil.ToFloat64(counter)

	for _, room := range []string{"r1", "r2", "r3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/presence/"+room, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	if delta := testutil.ToFloat64(counter) - before; delta != 3 {
		t.Errorf("requests for route pattern = %v, want 3", delta)
	}
}

func TestPrometheusMetrics_StatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		write func(w http.ResponseWriter)
		want  string
	}{
		{"implicit 200", func(w http.ResponseWriter) { _, _ = w.Write([]byte("ok")) }, "200"},
		{"explicit 503", func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) }, "503"},
		{"first header wins", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusBadRequest)
			w.WriteHeader(http.StatusOK)
		}, "400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := metrics.APIRequestsTotal.WithLabelValues("POST", "unmatched", tt.want)
			before := testutil.ToFloat64(counter)

			h := PrometheusMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				tt.write(w)
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

			if delta := testutil.ToFloat64(counter) - before; delta != 1 {
				t.Errorf("counter delta for %s = %v, want 1", tt.want, delta)
			}
		})
	}
}

func TestPrometheusMetrics_ActiveRequestsReturnToZero(t *testing.T) {
	before := testutil.ToFloat64(metrics.APIActiveRequests)
	var during float64
	h := PrometheusMetrics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		during = testutil.ToFloat64(metrics.APIActiveRequests)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if during != before+1 {
		t.Errorf("active during request = %v, want %v", during, before+1)
	}
	if after := testutil.ToFloat64(metrics.APIActiveRequests); after != before {
		t.Errorf("active after request = %v, want %v", after, before)
	}
}

// hijackRecorder is a recorder that supports hijacking.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	server, client := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestMetricsResponseWriter_Hijack(t *testing.T) {
	t.Run("supported", func(t *testing.T) {
		rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
		rw := &metricsResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
		conn, _, err := rw.Hijack()
		if err != nil {
			t.Fatalf("Hijack() error = %v", err)
		}
		_ = conn.Close()
		if !rec.hijacked || rw.statusCode != http.StatusSwitchingProtocols {
			t.Errorf("hijacked=%v status=%d", rec.hijacked, rw.statusCode)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		rw := &metricsResponseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
		if _, _, err := rw.Hijack(); err == nil {
			t.Error("Hijack() error = nil for a non-hijackable writer")
		}
	})
}

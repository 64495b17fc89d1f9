// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/roomsync/internal/config"
	"github.com/tomtom215/roomsync/internal/credits"
	"github.com/tomtom215/roomsync/internal/keyspace"
	"github.com/tomtom215/roomsync/internal/ledger"
	"github.com/tomtom215/roomsync/internal/logging"
	"github.com/tomtom215/roomsync/internal/messages"
	"github.com/tomtom215/roomsync/internal/models"
	"github.com/tomtom215/roomsync/internal/presence"
	"github.com/tomtom215/roomsync/internal/receipts"
	"github.com/tomtom215/roomsync/internal/store"
	ws "github.com/tomtom215/roomsync/internal/websocket"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// fakeLedger is an in-memory ledger.Ledger.
type fakeLedger struct {
	mu       sync.Mutex
	records  []models.DurableCreditRecord
	archived map[string]models.ChatMessage
	err      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{archived: make(map[string]models.ChatMessage)}
}

func (l *fakeLedger) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLedger) check() error {
	if l.err != nil {
		return errors.Join(ledger.ErrDurableWrite, l.err)
	}
	return nil
}

func (l *fakeLedger) InsertCreditRecords(_ context.Context, records []models.DurableCreditRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(l.records))
	for _, r := range l.records {
		seen[r.UserID+"/"+r.MessageID] = true
	}
	for _, r := range records {
		if !seen[r.UserID+"/"+r.MessageID] {
			l.records = append(l.records, r)
			seen[r.UserID+"/"+r.MessageID] = true
		}
	}
	return nil
}

func (l *fakeLedger) SumCreditsForUser(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return 0, err
	}
	var total int64
	for _, r := range l.records {
		if r.UserID == userID {
			total += r.Amount
		}
	}
	return total, nil
}

func (l *fakeLedger) ListCreditHistory(_ context.Context, userID string, limit, offset int) ([]models.DurableCreditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return nil, err
	}
	var out []models.DurableCreditRecord
	for _, r := range l.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].MessageID < out[j].MessageID
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (l *fakeLedger) ArchiveMessages(_ context.Context, msgs []models.ChatMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.check(); err != nil {
		return err
	}
	for _, m := range msgs {
		l.archived[m.ID] = m
	}
	return nil
}

func (l *fakeLedger) CountArchivedMessages(_ context.Context, roomID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, m := range l.archived {
		if m.RoomID == roomID {
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) Ping(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check()
}

func (l *fakeLedger) Close() error { return nil }

// testEnv is a handler wired to in-memory services and a running hub.
type testEnv struct {
	handler  *Handler
	store    *store.MemoryStore
	ledger   *fakeLedger
	clock    *quartz.Mock
	hub      *ws.Hub
	presence *presence.Service
	receipts *receipts.Service
	messages *messages.Service
	credits  *credits.FastPath
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		Credits: config.CreditsConfig{
			DefaultPlan: "standard",
			Plans: map[string]config.PlanConfig{
				"standard": {InputRatePer1K: 0.003, OutputRatePer1K: 0.015, ProfitMargin: 1.5, CreditToUSDRate: 0.01},
			},
		},
		WebSocket: config.WebSocketConfig{AllowedOrigins: []string{"http://app.example"}},
		API:       config.APIConfig{DefaultPageSize: 2, MaxPageSize: 5, RateLimitDisabled: true},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hub := ws.NewHub("node-test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	clock := quartz.NewMock(t)
	st := store.NewMemoryStore(clock)
	keys := keyspace.Default()
	cfg := testConfig()
	l := newFakeLedger()

	p := presence.NewService(st, keys, hub, clock)
	rc := receipts.NewService(st, keys, hub, clock)
	m := messages.NewService(st, keys, hub, clock, p)
	fp := credits.NewFastPath(st, keys, credits.NewPlanCatalog(cfg.Credits), clock)

	h := NewHandler(Dependencies{
		Config:   cfg,
		Store:    st,
		Presence: p,
		Receipts: rc,
		Messages: m,
		Credits:  fp,
		Ledger:   l,
		Hub:      hub,
		Version:  "test",
	})
	return &testEnv{
		handler:  h,
		store:    st,
		ledger:   l,
		clock:    clock,
		hub:      hub,
		presence: p,
		receipts: rc,
		messages: m,
		credits:  fp,
		cfg:      cfg,
	}
}

// withURLParams attaches chi route params so handlers can be called directly.
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// serve calls h directly and returns the recorder.
func serve(h http.HandlerFunc, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

// decodeResponse decodes the APIResponse envelope and, when data is
// non-nil, its data field.
func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) models.APIResponse {
	t.Helper()
	var raw struct {
		Status   string           `json:"status"`
		Data     json.RawMessage  `json:"data"`
		Metadata models.Metadata  `json:"metadata"`
		Error    *models.APIError `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", raw.Data, err)
		}
	}
	return models.APIResponse{Status: raw.Status, Metadata: raw.Metadata, Error: raw.Error}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	resp := decodeResponse(t, rec, nil)
	if resp.Status != "error" || resp.Error == nil || resp.Error.Code != code {
		t.Fatalf("response = %+v, want error code %s", resp, code)
	}
}

func jsonBody(t *testing.T, v interface{}) io.Reader {
	t.Helper()
	if s, ok := v.(string); ok {
		return strings.NewReader(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return strings.NewReader(string(data))
}

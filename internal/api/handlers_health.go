// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/roomsync/internal/models"
)

// healthCheckTimeout bounds each dependency ping.
const healthCheckTimeout = 2 * time.Second

// Dependency states reported by health endpoints.
const (
	depOK          = "ok"
	depUnavailable = "unavailable"
	depDisabled    = "disabled"
)

func (h *Handler) pingStore(ctx context.Context) string {
	if h.store == nil {
		return depUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return depUnavailable
	}
	return depOK
}

func (h *Handler) pingLedger(ctx context.Context) string {
	if h.ledger == nil {
		return depDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := h.ledger.Ping(ctx); err != nil {
		return depUnavailable
	}
	return depOK
}

func (h *Handler) creditSyncHealth() models.CreditSyncHealth {
	if h.sync == nil {
		return models.CreditSyncHealth{}
	}
	s := h.sync.Health()
	out := models.CreditSyncHealth{
		Running:             s.Running,
		LastError:           s.LastError,
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
	if !s.LastSuccessfulTick.IsZero() {
		tick := s.LastSuccessfulTick
		out.LastSuccessfulTick = &tick
	}
	return out
}

// Health reports the state of the node and its dependencies. It always
// answers 200; Status is "degraded" when a dependency is down or the credit
// sync job is not running.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	storeState := h.pingStore(r.Context())
	ledgerState := h.pingLedger(r.Context())
	syncHealth := h.creditSyncHealth()

	status := "ok"
	if storeState != depOK || ledgerState == depUnavailable || (h.sync != nil && !syncHealth.Running) {
		status = "degraded"
	}

	health := models.HealthStatus{
		Status:     status,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Seconds(),
		Store:      storeState,
		Ledger:     ledgerState,
		CreditSync: syncHealth,
	}
	if h.wsHub != nil {
		health.Hub = map[string]int{
			"clients": h.wsHub.GetClientCount(),
			"rooms":   h.wsHub.GetRoomCount(),
		}
	}

	respondSuccess(w, http.StatusOK, health, start)
}

// HealthLive handles liveness probe requests (Kubernetes-style)
// Returns 200 OK if the process is alive, regardless of dependencies
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, time.Now())
}

// HealthReady handles readiness probe requests (Kubernetes-style)
// Returns 200 OK only when the store answers, the ledger (if configured)
// answers and the credit sync job (if configured) is running.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	checks := map[string]string{
		"store":  h.pingStore(r.Context()),
		"ledger": h.pingLedger(r.Context()),
	}
	ready := checks["store"] == depOK && checks["ledger"] != depUnavailable

	if h.sync != nil {
		if h.sync.IsRunning() {
			checks["credit_sync"] = "running"
		} else {
			checks["credit_sync"] = "stopped"
			ready = false
		}
	}

	if !ready {
		respondErrorWithDetails(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"Service not ready", map[string]interface{}{"checks": checks}, nil)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"ready":  true,
		"checks": checks,
	}, start)
}

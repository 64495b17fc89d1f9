// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/roomsync/internal/identity"
	"github.com/tomtom215/roomsync/internal/middleware"
)

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	resolver      identity.Resolver
}

// NewRouter creates a router. resolver decides who the caller is for every
// route under /api/v1 except health.
func NewRouter(handler *Handler, chiMiddleware *ChiMiddleware, resolver identity.Resolver) *Router {
	if chiMiddleware == nil {
		chiMiddleware = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		chiMiddleware: chiMiddleware,
		resolver:      resolver,
	}
}

// rejectUnidentified answers requests whose identity did not resolve.
func rejectUnidentified(w http.ResponseWriter, _ *http.Request, err error) {
	respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error(), nil)
}

// SetupChi configures all HTTP routes using Chi router.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // CORS must be global to handle OPTIONS preflight

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Not found", nil)
	})

	// ========================
	// Health Endpoints
	// ========================
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	// ========================
	// Core API Endpoints
	// ========================
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		r.Use(identity.Middleware(router.resolver, rejectUnidentified))

		r.Get("/presence/{roomId}", router.handler.Presence)
		r.Get("/receipts/{roomId}", router.handler.Receipts)
		r.Get("/messages/{roomId}", router.handler.Messages)

		r.Route("/credits", func(r chi.Router) {
			r.Get("/{userId}/total", router.handler.CreditTotal)
			r.Get("/{userId}/history", router.handler.CreditHistory)
			r.With(router.chiMiddleware.RateLimitWrite()).Post("/usage", router.handler.TrackCreditUsage)
		})

		r.With(router.chiMiddleware.RateLimitWebSocket()).Get("/ws", router.handler.WebSocket)
	})

	return r
}

// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

/*
Package middleware provides chi-compatible HTTP middleware.

Key Components:

  - RequestID: reuses a well-formed upstream X-Request-ID or generates a
    UUID, and seeds the logging context with request and correlation ids
  - PrometheusMetrics: request count, latency and in-flight gauge, labelled
    by chi route pattern

Both wrap http.Handler so they compose with chi's Use:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)

The metrics response writer implements http.Hijacker, so websocket
upgrades pass through it.
*/
package middleware

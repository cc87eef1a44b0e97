// Package server assembles the ingest HTTP surface: admission, read API,
// dead-letter admin, health, and metrics.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	deadletterhandler "iot-stream-engine/internal/deadletter/handler"
	"iot-stream-engine/internal/health"
	ingesthandler "iot-stream-engine/internal/ingest/handler"
	"iot-stream-engine/internal/metrics"
	storagehandler "iot-stream-engine/internal/storage/handler"
)

// Deps carries the handlers the router mounts. Ingest and Health are
// required; Read and DeadLetter are optional (nil mounts nothing, e.g. when
// the server runs without a database).
type Deps struct {
	Ingest     *ingesthandler.Handler
	Read       *storagehandler.Handler
	DeadLetter *deadletterhandler.Handler
	Health     *health.Handler
	// APIKey gates the read and dead-letter routes when non-empty.
	APIKey string
	Logger *logrus.Logger
}

// NewRouter builds the chi router. Health and metrics endpoints are never
// behind the API key.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", deps.Health.Live)
	r.Get("/ready", deps.Health.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/events", deps.Ingest.SubmitEvent)

	if deps.Read != nil {
		r.Group(func(r chi.Router) {
			r.Use(requireAPIKey(deps.APIKey))
			r.Get("/telemetry", deps.Read.ListReadings)
			r.Get("/telemetry/latest", deps.Read.LatestReading)
			r.Get("/telemetry/{device_id}/rolling-average", deps.Read.RollingAverage)
			r.Get("/devices", deps.Read.Devices)
		})
	}
	if deps.DeadLetter != nil {
		r.Group(func(r chi.Router) {
			r.Use(requireAPIKey(deps.APIKey))
			r.Get("/deadletters", deps.DeadLetter.List)
			r.Post("/deadletters/{id}/replay", deps.DeadLetter.Replay)
		})
	}

	return r
}

// requireAPIKey rejects requests without the configured X-API-Key header.
// An empty key disables the check.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get("X-API-Key") != key {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

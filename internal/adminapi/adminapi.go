// Package adminapi is the pipeline's operational HTTP surface: health,
// metrics, and runtime suppression-list reconfiguration. Grounded on the
// teacher's app/run.go router assembly (middleware.Recoverer +
// middleware.RequestID + the monitoring tracing/metrics/logging chain),
// narrowed from the teacher's browser-facing flight API/WS/UI routes to the
// operational-only surface SPEC_FULL.md §2A calls for.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hut8/soar-ingest/internal/security"
	"github.com/hut8/soar-ingest/internal/telemetry"
)

// SuppressionController exposes the OGN decoder's live suppression lists
// for GET/POST /admin/suppress. internal/ogn.Decoder implements this.
type SuppressionController interface {
	SuppressionConfig() (types []string, categories []string)
	SetSuppressionConfig(types []string, categories []string)
}

// QueueDepths reports the current unconsumed-record depth of every
// configured wire-source queue, for /healthz.
type QueueDepths interface {
	Depths() map[string]int
}

type suppressionPayload struct {
	Types      []string `json:"suppressed_types"`
	Categories []string `json:"suppressed_categories"`
}

// New builds the admin router. queues may be nil if no depth reporting is
// wired (still serves /healthz with an empty queue list).
func New(suppression SuppressionController, queues QueueDepths) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(telemetry.TracingMiddleware)
	r.Use(telemetry.MetricsMiddleware)
	r.Use(telemetry.LoggingMiddleware)

	r.Get("/healthz", healthzHandler(queues))
	r.Handle("/metrics", telemetry.PrometheusHandler())

	r.Get("/admin/suppress", getSuppressHandler(suppression))
	r.With(security.RequireBearer).Post("/admin/suppress", postSuppressHandler(suppression))

	return r
}

func healthzHandler(queues QueueDepths) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		}
		if queues != nil {
			body["queue_depth"] = queues.Depths()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}

func getSuppressHandler(s SuppressionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			http.Error(w, "suppression control not configured", http.StatusServiceUnavailable)
			return
		}
		types, categories := s.SuppressionConfig()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(suppressionPayload{Types: types, Categories: categories})
	}
}

func postSuppressHandler(s SuppressionController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			http.Error(w, "suppression control not configured", http.StatusServiceUnavailable)
			return
		}
		var payload suppressionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		s.SetSuppressionConfig(payload.Types, payload.Categories)
		w.WriteHeader(http.StatusNoContent)
	}
}

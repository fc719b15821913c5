// Package http builds the service's HTTP surface: probes, metrics and the
// streaming endpoint.
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speech-analytics-service/internal/service/session"
)

// StreamPath is the WebSocket route.
const StreamPath = "/api/v1/stt/stream"

// ModelStatus reports the state of the shared inference engine.
type ModelStatus interface {
	Provider() string
	Loaded() bool
}

// ConnectionCounter reports the open sessions. *session.Registry satisfies it.
type ConnectionCounter interface {
	Len() int
	Stats() session.Stats
}

// Options are the collaborators mounted on the router.
type Options struct {
	Model       ModelStatus
	Connections ConnectionCounter
	Stream      http.Handler // mounted at StreamPath when set
	Metrics     http.Handler // defaults to promhttp.Handler()
	StartupTime time.Time
	Version     string
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string         `json:"status"`
	Provider      string         `json:"provider"`
	ModelLoaded   bool           `json:"modelLoaded"`
	Connections   int            `json:"connections"`
	Sessions      *session.Stats `json:"sessions,omitempty"`
	UptimeSeconds float64        `json:"uptimeSeconds"`
	Version       string         `json:"version,omitempty"`
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(opts Options) http.Handler {
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.StartupTime.IsZero() {
		opts.StartupTime = time.Now()
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// The engine loads lazily, so a configured but unloaded model still
	// counts as ready.
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if opts.Model == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no transcription engine"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Method(http.MethodGet, "/metrics", opts.Metrics)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, health(opts))
		})
		if opts.Stream != nil {
			r.Method(http.MethodGet, "/stt/stream", opts.Stream)
		}
	})

	return r
}

func health(opts Options) HealthResponse {
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(opts.StartupTime).Seconds(),
		Version:       opts.Version,
	}
	if opts.Model != nil {
		resp.Provider = opts.Model.Provider()
		resp.ModelLoaded = opts.Model.Loaded()
	} else {
		resp.Status = "degraded"
	}
	if opts.Connections != nil {
		resp.Connections = opts.Connections.Len()
		st := opts.Connections.Stats()
		resp.Sessions = &st
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

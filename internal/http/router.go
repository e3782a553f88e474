package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seeyonai/summit-transcribe/internal/session"
	"github.com/seeyonai/summit-transcribe/internal/transcript"
)

// SessionSource exposes the live session state to HTTP handlers.
// *session.Controller implements it.
type SessionSource interface {
	Status() session.Status
	Live() *transcript.Segment
	Committed() []transcript.Segment
}

// NewRouter constructs the HTTP router for the observability surface.
func NewRouter(src SessionSource) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, src.Status())
		})
		r.Get("/transcript", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, transcriptResponse{
				Live:      src.Live(),
				Committed: src.Committed(),
			})
		})
	})

	return r
}

type transcriptResponse struct {
	Live      *transcript.Segment  `json:"live"`
	Committed []transcript.Segment `json:"committed"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

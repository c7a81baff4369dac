package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPHandler returns an http.Handler with all routes registered, wrapped
// in request metrics and CORS for the given origins.
func (s *CartsServer) NewHTTPHandler(corsOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/move", s.handleMove)
	mux.HandleFunc("POST /api/obstaculo", s.handleObstacle)
	mux.HandleFunc("POST /api/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/sequence", s.handleSequence)
	mux.HandleFunc("GET /api/events/{id}", s.handleLatestEvents)
	mux.HandleFunc("GET /api/last/{id}", s.handleLastEvent)
	mux.HandleFunc("GET /api/devices", s.handleDevices)
	mux.HandleFunc("GET /ws/monitor", s.handleMonitor)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	c := cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	})
	return c(MetricsMiddleware(mux))
}

// pinger is implemented by stores that can check their backend.
type pinger interface {
	Ping(ctx context.Context) error
}

// handleHealth handles GET /health.
func (s *CartsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "observers": s.registry.Len()})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

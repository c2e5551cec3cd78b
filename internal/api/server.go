// Package api provides the introspection HTTP server for the swim daemon.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MemberView is a JSON-friendly snapshot of one table entry.
type MemberView struct {
	UUID        string `json:"uuid"`
	Addr        string `json:"addr"`
	Status      string `json:"status"`
	Incarnation uint64 `json:"incarnation"`
}

// Engine is the subset of *swim.Engine the HTTP surface depends on. A
// narrow interface here keeps internal/api free of an internal/swim
// import cycle and makes the handlers testable against a stub.
type Engine interface {
	Members() []MemberView
	ProbeMember(uri string) error
	Quit()
}

// Server is the swim daemon's HTTP API server. Grounded on api.Server's
// chi.Router/middleware/promhttp wiring (NikeGunn-tutu), trimmed to the
// single concern this daemon has: membership introspection.
type Server struct {
	engine         Engine
	registry       *prometheus.Registry
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(engine Engine, registry *prometheus.Registry) *Server {
	return &Server{engine: engine, registry: registry}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/members", s.handleListMembers)
	r.Post("/probe", s.handleProbe)
	r.Post("/quit", s.handleQuit)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Members())
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addr string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.ProbeMember(req.Addr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "probed"})
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	s.engine.Quit()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "quitting"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

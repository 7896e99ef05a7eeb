// Package statusserver exposes metrics and the session status over HTTP.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/vrepper/internal/logging"
	"github.com/psantana5/vrepper/internal/metrics"
	"github.com/psantana5/vrepper/internal/session"
)

// StatusSource reports the current session status.
type StatusSource interface {
	Snapshot() session.Status
}

// Pinger is a dependency whose reachability gates /ready, such as the
// recorder database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves /metrics, /healthz, /ready and /session.
type Server struct {
	router *mux.Router
	srv    *http.Server
	log    *logging.Logger
	source StatusSource

	checksMu sync.Mutex
	checks   map[string]Pinger
}

// New builds the router. source may be nil until a session exists.
func New(addr string, source StatusSource, m *metrics.Metrics, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		router: mux.NewRouter(),
		log:    log.Component("statusserver"),
		source: source,
		checks: make(map[string]Pinger),
	}

	s.router.Handle("/metrics", m.Handler()).Methods("GET")
	s.router.HandleFunc("/healthz", s.health).Methods("GET")
	s.router.HandleFunc("/ready", s.ready).Methods("GET")
	s.router.HandleFunc("/session", s.session).Methods("GET")

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddCheck makes /ready also require p.Ping to succeed.
func (s *Server) AddCheck(name string, p Pinger) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = p
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens and serves in the background. It returns the bound
// address, useful with ":0".
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	s.log.Info("status server listening", logging.Fields{"addr": addr})

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server error", logging.Fields{"error": err})
		}
	}()
	return addr, nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// ready is 200 only while a session is connected and every check passes.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "state": "none"})
		return
	}
	st := s.source.Snapshot()
	if st.State != "started" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "state": st.State})
		return
	}

	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			s.log.Warn("readiness check failed", logging.Fields{"check": name, "error": err})
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "state": st.State, "failed": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "state": st.State})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session"})
		return
	}
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

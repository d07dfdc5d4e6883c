// Package health exposes the daemon's liveness/readiness surface over
// plain net/http, the idiomatic Go rendition of health_check.hpp's
// HealthCheckHTTPServer: two GET endpoints instead of a bespoke request
// parser, backed by the same underlying counters/gauges rather than a
// registry of named check functions.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/simpledaemons/simple-snmpd/internal/metrics"
)

// Checker reports the readiness signals /readyz needs beyond "the process
// is up": whether the UDP listener bound successfully and whether the
// MIB/USM/VACM tables have been loaded.
type Checker interface {
	Bound() bool
	TablesLoaded() bool
}

// Server serves /healthz and /readyz on its own HTTP listener, separate
// from the UDP SNMP socket.
type Server struct {
	http    *http.Server
	checker Checker
	daemon  *metrics.Daemon
	logger  *slog.Logger
}

// New builds a health Server bound to addr (e.g. ":8080"). Call
// ListenAndServe to run it; call Shutdown to stop it.
func New(addr string, checker Checker, daemon *metrics.Daemon, logger *slog.Logger) *Server {
	s := &Server{checker: checker, daemon: daemon, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the listener errors or is
// closed via Shutdown; http.ErrServerClosed is not treated as an error.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener, letting in-flight requests
// finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type statusBody struct {
	Status      string `json:"status"`
	UptimeSecs  int64  `json:"uptime_seconds"`
	QueueDepth  int64  `json:"queue_depth,omitempty"`
	Bound       bool   `json:"bound,omitempty"`
	TablesReady bool   `json:"tables_ready,omitempty"`
}

// handleHealthz reports 200 once the process is up; it does not consult
// the checker at all, matching health_check.hpp's distinction between a
// liveness probe (is the process alive) and a readiness probe (can it
// serve traffic yet).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusBody{
		Status:     "ok",
		UptimeSecs: int64(s.daemon.Uptime(time.Now()).Seconds()),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	bound := s.checker.Bound()
	ready := s.checker.TablesLoaded()

	status := http.StatusOK
	body := statusBody{
		Status:      "ready",
		UptimeSecs:  int64(s.daemon.Uptime(time.Now()).Seconds()),
		QueueDepth:  s.daemon.QueueDepth.Value(),
		Bound:       bound,
		TablesReady: ready,
	}
	if !bound || !ready {
		status = http.StatusServiceUnavailable
		body.Status = "not ready"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body statusBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

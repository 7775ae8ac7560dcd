// Package web serves the relay status page and accepts relay commands over
// HTTP.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/sonoff-relay/internal/mqtt"
	"github.com/sweeney/sonoff-relay/internal/status"
)

// maxBody bounds POST /relay bodies.
const maxBody = 64

// Server exposes a Tracker over HTTP and forwards relay commands to the
// daemon loop.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   chan<- mqtt.Command
	log        logrus.FieldLogger
}

// New builds a Server listening on addr. A nil commands channel disables
// POST /relay (it answers 503).
func New(addr string, tracker *status.Tracker, commands chan<- mqtt.Command, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{tracker: tracker, commands: commands, log: log}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Post("/relay", s.handleRelay)
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for active requests until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusWriter records the response code for the request log.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.code,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.log.WithFields(logrus.Fields{"panic": v, "path": r.URL.Path}).Error("Handler panicked")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		s.log.WithError(err).Error("Render status page")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

type relayResponse struct {
	Accepted string `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

func writeRelay(w http.ResponseWriter, code int, resp relayResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// handleRelay takes ON, OFF or TOGGLE as the body and queues it for the
// loop. 202 means queued, not applied.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeRelay(w, http.StatusBadRequest, relayResponse{Error: "read body"})
		return
	}
	cmd, err := mqtt.ParseCommand(body)
	if err != nil {
		writeRelay(w, http.StatusBadRequest, relayResponse{Error: "body must be ON, OFF or TOGGLE"})
		return
	}

	if s.commands == nil {
		writeRelay(w, http.StatusServiceUnavailable, relayResponse{Error: "control disabled"})
		return
	}
	select {
	case s.commands <- cmd:
	default:
		writeRelay(w, http.StatusServiceUnavailable, relayResponse{Error: "busy"})
		return
	}

	s.log.WithFields(logrus.Fields{"command": cmd, "remote": r.RemoteAddr}).Info("Relay command accepted")
	writeRelay(w, http.StatusAccepted, relayResponse{Accepted: string(cmd)})
}

// Package api exposes the read-only query surface: incidents, their
// evidence timelines, and entity inventory. Writes only ever come from
// the pipeline, never from this API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seclens/seclens/internal/store"
)

const (
	defaultListLimit   = 100
	maxListLimit       = 1000
	defaultSinceHours  = 24
	requestTimeout     = 10 * time.Second
	shutdownGraceDelay = 5 * time.Second
)

// Server is the HTTP query server.
type Server struct {
	store  *store.Store
	logger *slog.Logger
	http   *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(st *store.Store, addr string, logger *slog.Logger) *Server {
	s := &Server{store: st, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/incidents", s.handleListIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/{id:[0-9]+}", s.handleGetIncident).Methods(http.MethodGet)
	v1.HandleFunc("/entities", s.handleListEntities).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      http.TimeoutHandler(r, requestTimeout, "request timed out"),
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout + time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("query api listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops the server, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGraceDelay)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), defaultListLimit, maxListLimit)
	sinceHours := intParam(q.Get("since_hours"), defaultSinceHours, 24*365)
	status := q.Get("status")

	since := time.Now().Add(-time.Duration(sinceHours) * time.Hour)
	incidents, err := s.store.ListIncidents(r.Context(), since, status, limit)
	if err != nil {
		s.fail(w, "failed to list incidents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incidents": incidents, "count": len(incidents)})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident id"})
		return
	}

	incident, err := s.store.GetIncident(r.Context(), id)
	if err != nil {
		s.fail(w, "failed to load incident", err)
		return
	}
	if incident == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}

	evidence, err := s.store.ListEvidence(r.Context(), id)
	if err != nil {
		s.fail(w, "failed to load evidence", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"incident": incident, "evidence": evidence})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r.URL.Query().Get("limit"), defaultListLimit, maxListLimit)
	entities, err := s.store.ListEntityStats(r.Context(), limit)
	if err != nil {
		s.fail(w, "failed to list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities, "count": len(entities)})
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// intParam parses a positive integer query parameter with a default and
// an upper bound.
func intParam(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

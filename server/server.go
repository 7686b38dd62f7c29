// Package server exposes the update orchestrator over a local REST API plus
// a websocket event stream. It is the only caller of the engine's public
// operations besides the CLI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/fleetward/fleetward/internal/updater"
	"github.com/fleetward/fleetward/internal/validate"
	"github.com/fleetward/fleetward/version"
)

const (
	defaultHistoryPageSize = 10
	shutdownTimeout        = 5 * time.Second
)

// Server serves the daemon API.
type Server struct {
	orchestrator *updater.Orchestrator
	validator    *validate.Validator
	hub          *eventHub
	httpServer   *http.Server
}

// NewServer wires the API surface for a running orchestrator. Every endpoint
// except the liveness probe requires an API key from accessKeys.
func NewServer(listenAddress string, accessKeys map[string]AccessKey,
	orchestrator *updater.Orchestrator, validator *validate.Validator) *Server {
	s := &Server{
		orchestrator: orchestrator,
		validator:    validator,
		hub:          newEventHub(),
	}

	auth := newAPIAuth(accessKeys)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	// health stays open so service managers can probe liveness without a key
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", auth.require(PermissionStatus, s.handleStatus)).Methods(http.MethodGet)
	api.HandleFunc("/check", auth.require(PermissionCheck, s.handleCheck)).Methods(http.MethodPost)
	api.HandleFunc("/update", auth.require(PermissionApply, s.handleApply)).Methods(http.MethodPost)
	api.HandleFunc("/history", auth.require(PermissionStatus, s.handleHistory)).Methods(http.MethodGet)
	api.HandleFunc("/validate", auth.require(PermissionStatus, s.handleValidate)).Methods(http.MethodPost)
	api.HandleFunc("/rollback", auth.require(PermissionApply, s.handleRollback)).Methods(http.MethodPost)
	api.HandleFunc("/events", auth.require(PermissionStatus, s.hub.handleEvents)).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    listenAddress,
		Handler: cors.AllowAll().Handler(router),
	}
	return s
}

// Start begins serving and subscribes the event hub to orchestrator events.
// It returns once the listener is running; serve errors are logged.
func (s *Server) Start(ctx context.Context) {
	s.orchestrator.SetEventListener(s.hub.broadcast)
	go s.hub.run(ctx)
	go func() {
		log.Infof("API listening on http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server stopped: %v", err)
		}
	}()
}

// Stop shuts the API down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warnf("API shutdown: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSONObject(w, map[string]string{
		"status":  "ok",
		"version": version.FleetwardVersion(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONObject(w, s.orchestrator.Status(r.Context()))
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.CheckNow(r.Context())
	if err != nil {
		writeError(err, w)
		return
	}
	writeJSONObject(w, result)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.ApplyPendingUpdate(r.Context())
	if err != nil {
		writeError(err, w)
		return
	}
	writeJSONObject(w, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeErrorResponse("limit must be a positive integer", http.StatusUnprocessableEntity, w)
			return
		}
		limit = parsed
	}

	records, err := s.orchestrator.History(r.Context(), limit)
	if err != nil {
		writeError(err, w)
		return
	}
	writeJSONObject(w, records)
}

type validateRequest struct {
	ExpectedVersion string `json:"expected_version,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := jsonDecode(r, &req); err != nil {
			writeErrorResponse("invalid request body", http.StatusUnprocessableEntity, w)
			return
		}
	}
	writeJSONObject(w, s.validator.ValidateSystem(r.Context(), req.ExpectedVersion))
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if !s.orchestrator.TriggerRollback(r.Context()) {
		writeErrorResponse("rollback failed", http.StatusInternalServerError, w)
		return
	}
	writeJSONObject(w, map[string]bool{"restored": true})
}

func jsonDecode(r *http.Request, out any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Debugf("error closing request body: %v", err)
		}
	}()
	return json.NewDecoder(r.Body).Decode(out)
}

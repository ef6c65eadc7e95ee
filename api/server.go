// Package api exposes the dispatch and tracking engine over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rt-technologie/freightd/core/dispatch"
	"github.com/rt-technologie/freightd/core/logger"
	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/tracking"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	machine   *mission.Machine
	engine    *dispatch.Engine
	tracker   *tracking.Tracker
	estimator *tracking.Estimator
	history   tracking.HistoryStore
	eventLog  tracking.EventStore
	store     mission.Store
	documents *DocumentLog
	validate  *validator.Validate
	log       logger.Logger
}

// NewServer wires the handlers. The engine may be nil when dispatching is
// driven externally; the dispatch routes then answer 503.
func NewServer(machine *mission.Machine, engine *dispatch.Engine, tracker *tracking.Tracker, estimator *tracking.Estimator, history tracking.HistoryStore, eventLog tracking.EventStore, store mission.Store, log logger.Logger) (*Server, error) {
	if machine == nil || tracker == nil || estimator == nil || history == nil || eventLog == nil || store == nil || log == nil {
		return nil, fmt.Errorf("api: nil parameter provided to NewServer")
	}
	return &Server{
		machine:   machine,
		engine:    engine,
		tracker:   tracker,
		estimator: estimator,
		history:   history,
		eventLog:  eventLog,
		store:     store,
		documents: NewDocumentLog(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		log:       log,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /missions", s.handleCreateMission)
	mux.HandleFunc("GET /missions/{id}", s.handleGetMission)
	mux.HandleFunc("PATCH /missions/{id}", s.handlePatchMission)
	mux.HandleFunc("POST /missions/{id}/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /missions/{id}/dispatch/accept", s.handleAccept)
	mux.HandleFunc("POST /missions/{id}/dispatch/refuse", s.handleRefuse)
	mux.HandleFunc("POST /positions", s.handleRecordPosition)
	mux.HandleFunc("GET /missions/{id}/eta", s.handleETA)
	mux.HandleFunc("GET /missions/{id}/positions", s.handlePositions)
	mux.HandleFunc("GET /missions/{id}/geofence/events", s.handleGeofenceEvents)
	mux.HandleFunc("POST /missions/{id}/documents", s.handleUploadDocument)
	mux.HandleFunc("GET /missions/{id}/documents", s.handleListDocuments)
	return mux
}

// Run serves the API on addr until the context is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infof("api listening on %s", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}

// writeDomainError maps domain sentinels to HTTP status codes. Conflicts and
// rejected transitions both answer 409 so a concurrent writer can reload and
// retry.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mission.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, mission.ErrConflict), errors.Is(err, mission.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dispatch.ErrOfferExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dispatch.ErrUnfulfilled), errors.Is(err, dispatch.ErrChainExhausted):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

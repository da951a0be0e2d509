// Package httpapi binds the dispatch engine to HTTP with gorilla/mux.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
)

// ReadyCheck reports whether a backing service is reachable.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	engine *engine.Engine
	ws     *dispatch.WSRegistry
	ready  map[string]ReadyCheck
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(eng *engine.Engine, ws *dispatch.WSRegistry, logger *slog.Logger, ready map[string]ReadyCheck) *Server {
	s := &Server{engine: eng, ws: ws, ready: ready, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rides", s.handleSubmitRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancelRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/decline", s.handleDecline).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/verify-otp", s.handleVerifyOTP).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/rides/{ride_id}/rating", s.handleRating).Methods(http.MethodPost)

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{driver_id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{driver_id}/availability", s.handleAvailability).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{driver_id}/location", s.handleLocation).Methods(http.MethodPut)
	api.HandleFunc("/drivers/{driver_id}/offer", s.handlePollOffer).Methods(http.MethodGet)
	api.HandleFunc("/riders/{rider_id}/ride", s.handlePollRide).Methods(http.MethodGet)

	s.mux.HandleFunc("/ws/{role}/{id}", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleSubmitRide(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if !decode(w, r, &req) {
		return
	}
	ride, err := s.engine.SubmitRide(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.engine.Ride(mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.engine.CancelRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type driverBody struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body driverBody
	if !decode(w, r, &body) || !required(w, "driver_id", body.DriverID) {
		return
	}
	offer, err := s.engine.AcceptOffer(r.Context(), mux.Vars(r)["ride_id"], body.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var body driverBody
	if !decode(w, r, &body) || !required(w, "driver_id", body.DriverID) {
		return
	}
	if err := s.engine.DeclineOffer(r.Context(), mux.Vars(r)["ride_id"], body.DriverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) || !required(w, "code", body.Code) {
		return
	}
	id := mux.Vars(r)["ride_id"]
	if err := s.engine.VerifyOTP(r.Context(), id, body.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.engine.Ride(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ride, err := s.engine.CompleteRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Score float64 `json:"score"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.engine.RateDriver(r.Context(), mux.Vars(r)["ride_id"], body.Score); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var in registry.RegisterDriver
	if !decode(w, r, &in) {
		return
	}
	d, err := s.engine.RegisterDriver(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Heartbeat(r.Context(), mux.Vars(r)["driver_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Available *bool `json:"available"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Available == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "available is required"})
		return
	}
	if err := s.engine.SetAvailability(r.Context(), mux.Vars(r)["driver_id"], *body.Available); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if !decode(w, r, &loc) {
		return
	}
	if err := s.engine.UpdateLocation(r.Context(), mux.Vars(r)["driver_id"], loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollOffer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.PollPendingOffer(mux.Vars(r)["driver_id"]))
}

func (s *Server) handlePollRide(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.PollRideStatus(mux.Vars(r)["rider_id"]))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the engine's error taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidOTP):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err, "request_id", requestIDFromContext(r.Context()))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return false
	}
	return true
}

func required(w http.ResponseWriter, field, v string) bool {
	if v == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: field + " is required"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

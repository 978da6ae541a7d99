// Package httpapi is the REST and WebSocket surface of the dispatch service.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/curblink/internal/dispatch"
	"github.com/example/curblink/internal/push"
	"github.com/example/curblink/internal/registry"
	"github.com/example/curblink/internal/roles"
	"github.com/example/curblink/internal/store"
)

type Server struct {
	Coord    *dispatch.Coordinator
	Registry *registry.Service
	Roles    *roles.Resolver
	DriverWS *push.Registry
	RiderWS  *push.Registry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(coord *dispatch.Coordinator, reg *registry.Service, resolver *roles.Resolver, driverWS, riderWS *push.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Coord:    coord,
		Registry: reg,
		Roles:    resolver,
		DriverWS: driverWS,
		RiderWS:  riderWS,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	// rider
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/{ride_id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/riders/{rider_id}/current", s.handleRiderCurrent).Methods("GET")
	api.HandleFunc("/riders/{rider_id}/history", s.handleRiderHistory).Methods("GET")

	// driver
	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/availability", s.handleAvailability).Methods("PUT")
	api.HandleFunc("/drivers/{driver_id}/location", s.handleLocation).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/offers", s.handleOffers).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/begin", s.handleBegin).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/complete", s.handleComplete).Methods("POST")

	// admin
	api.HandleFunc("/admin/drivers", s.handleListDrivers).Methods("GET")
	api.HandleFunc("/admin/drivers/{driver_id}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/admin/drivers/{driver_id}/reject", s.handleReject).Methods("POST")
	api.HandleFunc("/admin/stats", s.handleStats).Methods("GET")

	// identity
	api.HandleFunc("/roles/{principal_id}", s.handleResolveRole).Methods("GET")

	s.mux.HandleFunc("/ws/driver/{driver_id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/rider/{rider_id}", s.handleRiderWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the dispatch error taxonomy onto HTTP statuses. Race
// losses and state conflicts are 409s; eligibility failures are 403s.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, store.ErrRideNotFound), errors.Is(err, store.ErrDriverNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrRequestAlreadyClaimed),
		errors.Is(err, dispatch.ErrActiveRequestExists),
		errors.Is(err, store.ErrBadTransition),
		errors.Is(err, registry.ErrAlreadyApproved):
		status = http.StatusConflict
	case errors.Is(err, dispatch.ErrDriverNotEligible),
		errors.Is(err, dispatch.ErrCancelNotAllowed),
		errors.Is(err, dispatch.ErrNotAssignedDriver),
		errors.Is(err, registry.ErrNotApproved):
		status = http.StatusForbidden
	case errors.Is(err, dispatch.ErrPickupRequired):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

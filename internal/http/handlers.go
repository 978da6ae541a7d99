package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/curblink/internal/dispatch"
	"github.com/example/curblink/internal/models"
	"github.com/example/curblink/internal/registry"
)

type createRideBody struct {
	RiderID     string        `json:"rider_id"`
	RiderName   string        `json:"rider_name"`
	RiderPhone  string        `json:"rider_phone,omitempty"`
	Pickup      *models.Coord `json:"pickup,omitempty"`
	PickupAddr  string        `json:"pickup_addr,omitempty"`
	Destination *models.Coord `json:"destination,omitempty"`
	DestAddr    string        `json:"dest_addr"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var body createRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Coord.CreateRequest(r.Context(), dispatch.CreateInput{
		RiderID:     body.RiderID,
		RiderName:   body.RiderName,
		RiderPhone:  body.RiderPhone,
		Pickup:      body.Pickup,
		PickupAddr:  body.PickupAddr,
		Destination: body.Destination,
		DestAddr:    body.DestAddr,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Coord.Rides.GetRide(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type actorBody struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var body actorBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Coord.CancelRequest(r.Context(), body.ActorID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRiderCurrent(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Coord.Rides.ActiveForRider(r.Context(), mux.Vars(r)["rider_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ride == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ride": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride})
}

func (s *Server) handleRiderHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rides, err := s.Coord.Rides.HistoryForRider(r.Context(), mux.Vars(r)["rider_id"], limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

type registerDriverBody struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	VehicleDetails string `json:"vehicle_details"`
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var body registerDriverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := s.Registry.Register(r.Context(), registry.RegisterInput{
		Name:           body.Name,
		Email:          body.Email,
		VehicleDetails: body.VehicleDetails,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type availabilityBody struct {
	Available bool `json:"available"`
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var body availabilityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.Registry.SetAvailability(r.Context(), mux.Vars(r)["driver_id"], body.Available)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"driver":           res.Driver,
		"location_warning": res.LocationWarning,
	})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Registry.UpdateLocation(r.Context(), mux.Vars(r)["driver_id"], loc); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.Coord.OffersFor(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

type driverBody struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var body driverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Coord.AcceptRequest(r.Context(), body.DriverID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	var body driverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Coord.DeclineOffer(body.DriverID, mux.Vars(r)["ride_id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var body driverBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Coord.BeginTrip(r.Context(), body.DriverID, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type completeBody struct {
	DriverID  string  `json:"driver_id"`
	FinalFare float64 `json:"final_fare,omitempty"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body completeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.Coord.CompleteRequest(r.Context(), body.DriverID, mux.Vars(r)["ride_id"], body.FinalFare)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	approved := r.URL.Query().Get("approved") == "true"
	drivers, err := s.Registry.Drivers.ListDrivers(r.Context(), approved)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Approve(r.Context(), mux.Vars(r)["driver_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if err := s.Registry.Reject(r.Context(), mux.Vars(r)["driver_id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Registry.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleResolveRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.Roles.Resolve(r.Context(), mux.Vars(r)["principal_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": string(role)})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.DriverWS.Add(id, conn)
}

func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["rider_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.RiderWS.Add(id, conn)
}

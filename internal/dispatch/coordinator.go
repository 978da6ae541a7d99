// Package dispatch owns the ride-request state machine. It is the only
// component that moves a request out of pending, and the referee for
// concurrent accepts: two drivers claiming the same request yield exactly
// one success and one race loss.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/curblink/internal/bus"
	"github.com/example/curblink/internal/fare"
	"github.com/example/curblink/internal/geo"
	"github.com/example/curblink/internal/models"
	"github.com/example/curblink/internal/observability"
	"github.com/example/curblink/internal/registry"
	"github.com/example/curblink/internal/store"
)

var (
	// ErrRequestAlreadyClaimed is the routine race-loss outcome: someone
	// else won the claim, the caller clears its offer view and moves on.
	ErrRequestAlreadyClaimed = errors.New("request already claimed")

	// ErrDriverNotEligible covers unapproved, unavailable, and
	// already-busy drivers. The caller must not retry until the
	// underlying condition changes.
	ErrDriverNotEligible = errors.New("driver not eligible")

	// ErrActiveRequestExists rejects a new request while the rider still
	// has a non-terminal one.
	ErrActiveRequestExists = errors.New("rider already has an active request")

	ErrPickupRequired    = errors.New("pickup coordinate could not be resolved")
	ErrCancelNotAllowed  = errors.New("cancellation not permitted for this actor or state")
	ErrNotAssignedDriver = errors.New("requester is not the assigned driver")
)

// OfferSender pushes a transient offer to a connected driver. Delivery is
// best-effort; the pending request in the store is the source of truth.
type OfferSender interface {
	Offer(driverID string, offer models.Offer) error
}

type Coordinator struct {
	Rides    store.RideStore
	Drivers  store.DriverStore
	Registry *registry.Service
	Geo      geo.Geo
	Offers   OfferSender
	Estimate fare.Estimator
	Geocode  fare.Geocoder
	Bus      *bus.Bus
	Log      *slog.Logger

	// OfferFanout caps how many nearby drivers a new request is pushed to.
	OfferFanout int

	mu       sync.Mutex
	declined map[string]map[string]struct{} // driverID -> locally declined request IDs
}

func NewCoordinator(rides store.RideStore, drivers store.DriverStore, reg *registry.Service, g geo.Geo, b *bus.Bus, log *slog.Logger) *Coordinator {
	return &Coordinator{
		Rides:       rides,
		Drivers:     drivers,
		Registry:    reg,
		Geo:         g,
		Estimate:    fare.StubEstimator{},
		Geocode:     fare.NewStubGeocoder(),
		Bus:         b,
		Log:         log,
		OfferFanout: 8,
		declined:    make(map[string]map[string]struct{}),
	}
}

type CreateInput struct {
	RiderID     string
	RiderName   string
	RiderPhone  string
	Pickup      *models.Coord
	PickupAddr  string
	Destination *models.Coord
	DestAddr    string
}

// CreateRequest validates and persists a new pending request, then surfaces
// it to nearby eligible drivers.
func (c *Coordinator) CreateRequest(ctx context.Context, in CreateInput) (*models.RideRequest, error) {
	if in.RiderID == "" {
		return nil, errors.New("rider id is required")
	}
	pickup := in.Pickup
	if pickup == nil {
		p, err := c.Geocode.Geocode(in.PickupAddr)
		if err != nil {
			return nil, ErrPickupRequired
		}
		pickup = &p
	}
	dest := in.Destination
	if dest == nil && in.DestAddr != "" {
		if d, err := c.Geocode.Geocode(in.DestAddr); err == nil {
			dest = &d
		}
		// destination coordinate stays optional; the address text is enough
	}
	if active, err := c.Rides.ActiveForRider(ctx, in.RiderID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, ErrActiveRequestExists
	}

	r := &models.RideRequest{
		ID:          uuid.NewString(),
		RiderID:     in.RiderID,
		RiderName:   in.RiderName,
		RiderPhone:  in.RiderPhone,
		Pickup:      *pickup,
		PickupAddr:  in.PickupAddr,
		Destination: dest,
		DestAddr:    in.DestAddr,
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}
	if dest != nil {
		r.EstimatedFare = c.Estimate.Estimate(*pickup, *dest)
	}
	if err := c.Rides.CreateRide(ctx, r); err != nil {
		if errors.Is(err, store.ErrActiveRide) {
			return nil, ErrActiveRequestExists
		}
		return nil, err
	}
	observability.RequestsCreated.Inc()
	c.Bus.Publish(bus.Event{Type: bus.RequestCreated, Ride: r})
	c.Log.Info("ride requested", "ride_id", r.ID, "rider_id", r.RiderID)

	c.fanOutOffer(r)
	return r, nil
}

// fanOutOffer pushes the new request to the nearest eligible drivers.
// Several drivers may see the same offer; the claim CAS picks the winner.
func (c *Coordinator) fanOutOffer(r *models.RideRequest) {
	if c.Offers == nil || c.Geo == nil {
		return
	}
	offer := offerFrom(r)
	for _, e := range c.Geo.Nearby(r.Pickup.Lat, r.Pickup.Lon, c.OfferFanout) {
		if err := c.Offers.Offer(e.DriverID, offer); err != nil {
			c.Log.Debug("offer push skipped", "driver_id", e.DriverID, "err", err)
		}
	}
}

// AcceptRequest claims a pending request for a driver. The eligibility
// check fails fast; the actual transition is a conditional commit against
// the store, never a read-then-write.
func (c *Coordinator) AcceptRequest(ctx context.Context, driverID, requestID string) (*models.RideRequest, error) {
	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		if errors.Is(err, store.ErrDriverNotFound) {
			return nil, ErrDriverNotEligible
		}
		return nil, err
	}
	if !d.Approved || !d.Available {
		return nil, ErrDriverNotEligible
	}

	err = c.Rides.ClaimRide(ctx, requestID, driverID, d.Name, d.VehicleDetails, time.Now())
	switch {
	case errors.Is(err, store.ErrRideClaimed):
		observability.AcceptConflicts.Inc()
		c.Log.Debug("claim race lost", "ride_id", requestID, "driver_id", driverID)
		return nil, ErrRequestAlreadyClaimed
	case errors.Is(err, store.ErrDriverBusy):
		return nil, ErrDriverNotEligible
	case err != nil:
		return nil, err
	}

	c.clearDeclines(requestID)
	r, err := c.Rides.GetRide(ctx, requestID)
	if err != nil {
		return nil, err
	}
	observability.RequestsAccepted.Inc()
	c.Bus.Publish(bus.Event{Type: bus.RequestAccepted, Ride: r})
	c.Log.Info("ride accepted", "ride_id", requestID, "driver_id", driverID)
	return r, nil
}

// maxDeclinedPerDriver caps a driver's local decline set. Requests that
// never settle (abandoned and swept out-of-band) would otherwise pin their
// IDs here for the life of the process.
const maxDeclinedPerDriver = 128

// DeclineOffer clears the offer from this driver's view only. The shared
// request is untouched and stays visible to other eligible drivers; there
// is no persisted declined-by list.
func (c *Coordinator) DeclineOffer(driverID, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.declined[driverID]
	if !ok {
		set = make(map[string]struct{})
		c.declined[driverID] = set
	}
	if len(set) >= maxDeclinedPerDriver {
		// Entries carry no order; evicting an arbitrary one just means a
		// long-declined offer may resurface in this driver's view.
		for id := range set {
			delete(set, id)
			break
		}
	}
	set[requestID] = struct{}{}
}

// BeginTrip moves an accepted ride to ongoing; only the bound driver may
// start the trip.
func (c *Coordinator) BeginTrip(ctx context.Context, driverID, requestID string) (*models.RideRequest, error) {
	if err := c.Rides.BeginTrip(ctx, requestID, driverID); err != nil {
		if errors.Is(err, store.ErrBadTransition) {
			return nil, ErrNotAssignedDriver
		}
		return nil, err
	}
	r, err := c.Rides.GetRide(ctx, requestID)
	if err != nil {
		return nil, err
	}
	c.Bus.Publish(bus.Event{Type: bus.TripStarted, Ride: r})
	c.Log.Info("trip started", "ride_id", requestID, "driver_id", driverID)
	return r, nil
}

// CompleteRequest finishes a ride the driver is bound to. A zero finalFare
// falls back to the estimate. Completion is not repeatable: a second call
// fails and leaves completed_at untouched.
func (c *Coordinator) CompleteRequest(ctx context.Context, driverID, requestID string, finalFare float64) (*models.RideRequest, error) {
	r, err := c.Rides.GetRide(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.DriverID != driverID {
		return nil, ErrNotAssignedDriver
	}
	if finalFare <= 0 {
		finalFare = r.EstimatedFare
	}
	if err := c.Rides.CompleteRide(ctx, requestID, driverID, finalFare, time.Now()); err != nil {
		return nil, err
	}
	c.clearDeclines(requestID)
	r, err = c.Rides.GetRide(ctx, requestID)
	if err != nil {
		return nil, err
	}
	observability.RequestsCompleted.Inc()
	c.Bus.Publish(bus.Event{Type: bus.RequestCompleted, Ride: r})
	c.Log.Info("ride completed", "ride_id", requestID, "driver_id", driverID, "fare", finalFare)
	return r, nil
}

// CancelRequest cancels from pending or accepted. Only the rider or the
// bound driver may cancel; ongoing rides cannot be cancelled.
func (c *Coordinator) CancelRequest(ctx context.Context, actorID, requestID string) (*models.RideRequest, error) {
	r, err := c.Rides.GetRide(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if actorID != r.RiderID && (r.DriverID == "" || actorID != r.DriverID) {
		return nil, ErrCancelNotAllowed
	}
	if err := c.Rides.CancelRide(ctx, requestID, time.Now()); err != nil {
		if errors.Is(err, store.ErrBadTransition) {
			return nil, ErrCancelNotAllowed
		}
		return nil, err
	}
	c.clearDeclines(requestID)
	r, err = c.Rides.GetRide(ctx, requestID)
	if err != nil {
		return nil, err
	}
	observability.RequestsCancelled.Inc()
	c.Bus.Publish(bus.Event{Type: bus.RequestCancelled, Ride: r})
	c.Log.Info("ride cancelled", "ride_id", requestID, "actor_id", actorID)
	return r, nil
}

// OffersFor derives the driver's current offer view: pending requests only,
// and only while the driver is approved, available, and has a fresh fix.
// Locally declined offers are filtered out of this driver's view.
func (c *Coordinator) OffersFor(ctx context.Context, driverID string) ([]models.Offer, error) {
	d, err := c.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if !c.Registry.Offerable(d) {
		return nil, nil
	}
	pending, err := c.Rides.PendingRides(ctx, 10)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	declined := c.declined[driverID]
	c.mu.Unlock()
	out := make([]models.Offer, 0, len(pending))
	for i := range pending {
		if _, ok := declined[pending[i].ID]; ok {
			continue
		}
		out = append(out, offerFrom(&pending[i]))
	}
	return out, nil
}

// clearDeclines drops a settled request from every driver's local decline
// set; the state is meaningless once the request leaves pending.
func (c *Coordinator) clearDeclines(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for driverID, set := range c.declined {
		delete(set, requestID)
		if len(set) == 0 {
			delete(c.declined, driverID)
		}
	}
}

func offerFrom(r *models.RideRequest) models.Offer {
	return models.Offer{
		RequestID:     r.ID,
		RiderName:     r.RiderName,
		Pickup:        r.Pickup,
		PickupAddr:    r.PickupAddr,
		DestAddr:      r.DestAddr,
		EstimatedFare: r.EstimatedFare,
	}
}

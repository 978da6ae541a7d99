// Package registry is the driver-side model: registration, admin moderation,
// the availability flag and the last-known-location fix that together decide
// whether a driver belongs in the matching pool.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/curblink/internal/bus"
	"github.com/example/curblink/internal/geo"
	"github.com/example/curblink/internal/geoloc"
	"github.com/example/curblink/internal/ingest"
	"github.com/example/curblink/internal/models"
	"github.com/example/curblink/internal/observability"
	"github.com/example/curblink/internal/store"
)

var (
	ErrNotApproved     = errors.New("driver is not approved")
	ErrAlreadyApproved = errors.New("driver is already approved")
)

// LocationPublisher pushes location fixes to the ingest pipeline. Optional.
type LocationPublisher interface {
	PublishLocation(ev ingest.LocationEvent) error
}

type Service struct {
	Drivers   store.DriverStore
	Rides     store.RideStore
	Geo       geo.Geo
	Location  geoloc.Provider
	Publisher LocationPublisher
	Bus       *bus.Bus
	Log       *slog.Logger

	// Staleness is the window after which a fix reads as unknown.
	Staleness time.Duration
	// RefreshInterval is the cadence of the periodic location refresh while
	// a driver is available.
	RefreshInterval time.Duration

	mu         sync.Mutex
	refreshers map[string]context.CancelFunc
}

func NewService(drivers store.DriverStore, rides store.RideStore, g geo.Geo, loc geoloc.Provider, b *bus.Bus, log *slog.Logger) *Service {
	return &Service{
		Drivers:         drivers,
		Rides:           rides,
		Geo:             g,
		Location:        loc,
		Bus:             b,
		Log:             log,
		Staleness:       2 * time.Minute,
		RefreshInterval: 30 * time.Second,
		refreshers:      make(map[string]context.CancelFunc),
	}
}

type RegisterInput struct {
	Name           string
	Email          string
	VehicleDetails string
}

// Register creates a driver record awaiting admin approval. New drivers are
// neither approved nor available.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Driver, error) {
	if in.Name == "" || in.Email == "" {
		return nil, errors.New("name and email are required")
	}
	now := time.Now()
	d := &models.Driver{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Email:          in.Email,
		VehicleDetails: in.VehicleDetails,
		RegisteredAt:   now,
		LastSeen:       now,
	}
	if err := s.Drivers.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	s.Log.Info("driver registered", "driver_id", d.ID, "email", d.Email)
	return d, nil
}

// Approve admits a driver into the active pool.
func (s *Service) Approve(ctx context.Context, driverID string) error {
	if err := s.Drivers.SetApproval(ctx, driverID, true); err != nil {
		return err
	}
	s.Log.Info("driver approved", "driver_id", driverID)
	return nil
}

// Reject permanently removes a still-pending registration. An approved
// driver cannot be rejected this way.
func (s *Service) Reject(ctx context.Context, driverID string) error {
	d, err := s.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	if d.Approved {
		return ErrAlreadyApproved
	}
	if err := s.Drivers.DeleteDriver(ctx, driverID); err != nil {
		return err
	}
	s.Geo.Remove(driverID)
	s.Log.Info("driver registration rejected", "driver_id", driverID)
	return nil
}

// AvailabilityResult carries the updated driver plus a non-fatal location
// warning. A failed fix while going available does not revoke availability;
// it is surfaced so the driver can act on it.
type AvailabilityResult struct {
	Driver          *models.Driver
	LocationWarning string
}

// SetAvailability toggles the driver's availability. Going available
// triggers an immediate location refresh and starts the periodic refresher;
// going unavailable stops the refresher and drops the driver from the
// matching pool without touching an already-accepted ride.
func (s *Service) SetAvailability(ctx context.Context, driverID string, available bool) (*AvailabilityResult, error) {
	d, err := s.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if available && !d.Approved {
		return nil, ErrNotApproved
	}
	if d.Available == available {
		// Same-value toggle (client retry): no gauge move, no refresher
		// churn, no event.
		return &AvailabilityResult{Driver: d}, nil
	}
	if err := s.Drivers.SetAvailability(ctx, driverID, available, time.Now()); err != nil {
		return nil, err
	}
	d.Available = available

	res := &AvailabilityResult{Driver: d}
	if available {
		if err := s.RefreshLocation(ctx, driverID); err != nil {
			observability.LocationFailures.Inc()
			s.Log.Warn("location refresh failed on go-available", "driver_id", driverID, "err", err)
			res.LocationWarning = "could not get your current location; enable location services"
		}
		s.startRefresher(driverID)
		observability.DriversAvailable.Inc()
	} else {
		s.stopRefresher(driverID)
		s.Geo.Remove(driverID)
		observability.DriversAvailable.Dec()
	}

	s.Bus.Publish(bus.Event{Type: bus.DriverAvailability, DriverID: driverID, Available: available})
	s.Log.Info("availability changed", "driver_id", driverID, "available", available)
	return res, nil
}

// UpdateLocation stores a coordinate, bumps last-seen, and feeds the
// matching pool and the ingest pipeline.
func (s *Service) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	now := time.Now()
	if err := s.Drivers.UpdateLocation(ctx, driverID, loc, now); err != nil {
		return err
	}
	d, err := s.Drivers.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	s.Geo.Upsert(geo.Entry{
		DriverID:  driverID,
		Loc:       loc,
		Approved:  d.Approved,
		Available: d.Available,
		Updated:   now,
	})
	if s.Publisher != nil {
		if err := s.Publisher.PublishLocation(ingest.LocationEvent{
			DriverID: driverID, Loc: loc, Approved: d.Approved, Available: d.Available, At: now,
		}); err != nil {
			s.Log.Warn("location publish failed", "driver_id", driverID, "err", err)
		}
	}
	observability.LocationUpdates.Inc()
	return nil
}

// RefreshLocation fetches a fix from the geolocation provider and applies
// it. Acquisition is bounded; a failure leaves availability untouched.
func (s *Service) RefreshLocation(ctx context.Context, driverID string) error {
	ctx, cancel := context.WithTimeout(ctx, geoloc.DefaultTimeout)
	defer cancel()
	loc, err := s.Location.Current(ctx)
	if err != nil {
		return err
	}
	return s.UpdateLocation(ctx, driverID, loc)
}

// FreshLocation applies the staleness window: a fix older than the window
// reads as unknown.
func (s *Service) FreshLocation(d *models.Driver) *models.Coord {
	if d.Location == nil {
		return nil
	}
	if time.Since(d.LastSeen) > s.Staleness {
		return nil
	}
	return d.Location
}

// Offerable reports whether pending requests may be shown to this driver.
func (s *Service) Offerable(d *models.Driver) bool {
	return d.Approved && d.Available && s.FreshLocation(d) != nil
}

// Stats is the admin overview snapshot.
type Stats struct {
	TotalDrivers    int `json:"total_drivers"`
	PendingDrivers  int `json:"pending_drivers"`
	ApprovedDrivers int `json:"approved_drivers"`
	ActiveRides     int `json:"active_rides"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, pending, approved, err := s.Drivers.CountDrivers(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.Rides.CountActive(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalDrivers:    total,
		PendingDrivers:  pending,
		ApprovedDrivers: approved,
		ActiveRides:     active,
	}, nil
}

func (s *Service) startRefresher(driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshers[driverID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.refreshers[driverID] = cancel
	go s.runRefresher(ctx, driverID)
}

func (s *Service) stopRefresher(driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.refreshers[driverID]; ok {
		cancel()
		delete(s.refreshers, driverID)
	}
}

// StopAll tears down every running refresher; used on shutdown.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.refreshers {
		cancel()
		delete(s.refreshers, id)
	}
}

func (s *Service) runRefresher(ctx context.Context, driverID string) {
	ticker := time.NewTicker(s.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshLocation(ctx, driverID); err != nil {
				// A single failed fetch is a warning, never an
				// availability change; staleness handles the rest.
				observability.LocationFailures.Inc()
				s.Log.Warn("periodic location refresh failed", "driver_id", driverID, "err", err)
			}
		}
	}
}

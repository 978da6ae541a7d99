package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/curblink/internal/models"
)

// MemoryStore keeps rides and drivers in process memory. The single mutex
// is what makes ClaimRide a true compare-and-set: the pending check and the
// driver binding commit under one critical section.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]*models.RideRequest
	drivers map[string]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]*models.RideRequest),
		drivers: make(map[string]*models.Driver),
	}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.rides {
		if ex.RiderID == r.RiderID && ex.Status.Active() {
			return ErrActiveRide
		}
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ActiveForRider(ctx context.Context, riderID string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.RiderID == riderID && r.Status.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ActiveForDriver(ctx context.Context, driverID string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && (r.Status == models.StatusAccepted || r.Status == models.StatusOngoing) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) PendingRides(ctx context.Context, limit int) ([]models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideRequest, 0)
	for _, r := range m.rides {
		if r.Status == models.StatusPending {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) HistoryForRider(ctx context.Context, riderID string, limit int) ([]models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideRequest, 0)
	for _, r := range m.rides {
		if r.RiderID == riderID && r.Status.Terminal() {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountActive(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.rides {
		if r.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ClaimRide(ctx context.Context, rideID, driverID, driverName, vehicle string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrRideNotFound
	}
	if r.Status != models.StatusPending || r.DriverID != "" {
		return ErrRideClaimed
	}
	for _, ex := range m.rides {
		if ex.DriverID == driverID && (ex.Status == models.StatusAccepted || ex.Status == models.StatusOngoing) {
			return ErrDriverBusy
		}
	}
	r.Status = models.StatusAccepted
	r.DriverID = driverID
	r.DriverName = driverName
	r.VehicleDetails = vehicle
	t := at
	r.AcceptedAt = &t
	return nil
}

func (m *MemoryStore) BeginTrip(ctx context.Context, rideID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrRideNotFound
	}
	if r.Status != models.StatusAccepted || r.DriverID != driverID {
		return ErrBadTransition
	}
	r.Status = models.StatusOngoing
	return nil
}

func (m *MemoryStore) CompleteRide(ctx context.Context, rideID, driverID string, finalFare float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrRideNotFound
	}
	if r.DriverID != driverID {
		return ErrBadTransition
	}
	if r.Status != models.StatusAccepted && r.Status != models.StatusOngoing {
		return ErrBadTransition
	}
	r.Status = models.StatusCompleted
	r.FinalFare = finalFare
	t := at
	r.CompletedAt = &t
	return nil
}

func (m *MemoryStore) CancelRide(ctx context.Context, rideID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return ErrRideNotFound
	}
	if r.Status != models.StatusPending && r.Status != models.StatusAccepted {
		return ErrBadTransition
	}
	r.Status = models.StatusCancelled
	t := at
	r.CancelledAt = &t
	return nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrDriverNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) DeleteDriver(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[id]; !ok {
		return ErrDriverNotFound
	}
	delete(m.drivers, id)
	return nil
}

func (m *MemoryStore) SetApproval(ctx context.Context, id string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrDriverNotFound
	}
	d.Approved = approved
	return nil
}

func (m *MemoryStore) SetAvailability(ctx context.Context, id string, available bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrDriverNotFound
	}
	d.Available = available
	d.LastSeen = at
	return nil
}

func (m *MemoryStore) UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrDriverNotFound
	}
	l := loc
	d.Location = &l
	d.LastSeen = at
	return nil
}

func (m *MemoryStore) ListDrivers(ctx context.Context, approved bool) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0)
	for _, d := range m.drivers {
		if d.Approved == approved {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (m *MemoryStore) CountDrivers(ctx context.Context) (total, pending, approved int, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		total++
		if d.Approved {
			approved++
		} else {
			pending++
		}
	}
	return total, pending, approved, nil
}

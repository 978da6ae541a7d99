package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/curblink/internal/models"
)

var (
	ErrRideNotFound   = errors.New("ride not found")
	ErrDriverNotFound = errors.New("driver not found")

	// ErrRideClaimed is the conditional-commit failure: the ride was no
	// longer pending (or already bound) at commit time. Callers treat it
	// as a routine race loss, not a fault.
	ErrRideClaimed = errors.New("ride already claimed")

	// ErrDriverBusy means the claiming driver already holds an active ride.
	ErrDriverBusy = errors.New("driver already has an active ride")

	// ErrActiveRide means the rider already has a non-terminal request.
	ErrActiveRide = errors.New("rider already has an active ride")

	// ErrBadTransition means the requested status change is not valid from
	// the ride's current state (including terminal states, which never move).
	ErrBadTransition = errors.New("invalid status transition")
)

// RideStore is the single source of truth for ride requests. All status
// mutation goes through the guarded transition methods below; nothing else
// may write status or driver_id.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.RideRequest) error
	GetRide(ctx context.Context, id string) (*models.RideRequest, error)

	// ActiveForRider returns the rider's single non-terminal request, or
	// nil when the rider has none.
	ActiveForRider(ctx context.Context, riderID string) (*models.RideRequest, error)
	// ActiveForDriver returns the driver's accepted or ongoing ride, if any.
	ActiveForDriver(ctx context.Context, driverID string) (*models.RideRequest, error)

	PendingRides(ctx context.Context, limit int) ([]models.RideRequest, error)
	HistoryForRider(ctx context.Context, riderID string, limit int) ([]models.RideRequest, error)
	CountActive(ctx context.Context) (int, error)

	// ClaimRide atomically binds a driver to a still-pending, still-unbound
	// ride. Exactly one of two concurrent claims can succeed; the loser
	// gets ErrRideClaimed. The driver name and vehicle are snapshotted onto
	// the ride at commit time.
	ClaimRide(ctx context.Context, rideID, driverID, driverName, vehicle string, at time.Time) error

	// BeginTrip moves accepted -> ongoing for the bound driver only.
	BeginTrip(ctx context.Context, rideID, driverID string) error

	// CompleteRide moves accepted/ongoing -> completed for the bound driver
	// only. A second completion fails with ErrBadTransition and leaves
	// completed_at untouched.
	CompleteRide(ctx context.Context, rideID, driverID string, finalFare float64, at time.Time) error

	// CancelRide moves pending/accepted -> cancelled. Ongoing and terminal
	// rides cannot be cancelled.
	CancelRide(ctx context.Context, rideID string, at time.Time) error
}

// DriverStore holds the driver registry: approval, availability and the
// last known location. Availability and location writes go through the
// registry component only.
type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)

	// DeleteDriver removes a registration record. The registry only calls
	// this for still-unapproved drivers (admin rejection).
	DeleteDriver(ctx context.Context, id string) error

	SetApproval(ctx context.Context, id string, approved bool) error
	SetAvailability(ctx context.Context, id string, available bool, at time.Time) error
	UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error

	ListDrivers(ctx context.Context, approved bool) ([]models.Driver, error)
	CountDrivers(ctx context.Context) (total, pending, approved int, err error)
}

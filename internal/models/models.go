package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Status is the lifecycle state of a ride request.
// pending -> accepted -> ongoing -> completed, with cancellation
// allowed from pending and accepted only.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active covers every non-terminal state a rider may hold.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusOngoing
}

type Driver struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	VehicleDetails string    `json:"vehicle_details"`
	Approved       bool      `json:"approved"`
	Available      bool      `json:"available"`
	Location       *Coord    `json:"location,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastSeen       time.Time `json:"last_seen"`
}

type RideRequest struct {
	ID          string `json:"id"`
	RiderID     string `json:"rider_id"`
	RiderName   string `json:"rider_name"`
	RiderPhone  string `json:"rider_phone,omitempty"`
	Pickup      Coord  `json:"pickup"`
	PickupAddr  string `json:"pickup_addr,omitempty"`
	Destination *Coord `json:"destination,omitempty"`
	DestAddr    string `json:"dest_addr"`
	Status      Status `json:"status"`
	DriverID    string `json:"driver_id,omitempty"`
	// Snapshot of the driver at accept time; later profile edits must not
	// retroactively alter an in-flight ride's record.
	DriverName     string     `json:"driver_name,omitempty"`
	VehicleDetails string     `json:"vehicle_details,omitempty"`
	EstimatedFare  float64    `json:"estimated_fare,omitempty"`
	FinalFare      float64    `json:"final_fare,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// Role is the resolved authorization role of a principal.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	RoleNone     Role = "none"
)

// Offer is the transient, driver-local view of a pending request.
// It is never persisted.
type Offer struct {
	RequestID     string  `json:"request_id"`
	RiderName     string  `json:"rider_name"`
	Pickup        Coord   `json:"pickup"`
	PickupAddr    string  `json:"pickup_addr,omitempty"`
	DestAddr      string  `json:"dest_addr"`
	EstimatedFare float64 `json:"estimated_fare,omitempty"`
}

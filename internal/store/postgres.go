package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/curblink/internal/models"
)

// PostgresStore persists rides and the driver registry. Transitions use
// conditional UPDATEs so the status guard and the write commit in one
// statement; RowsAffected==0 means the guard failed.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `id, rider_id, rider_name, rider_phone, pickup_lat, pickup_lon, pickup_addr,
	dest_lat, dest_lon, dest_addr, status, driver_id, driver_name, vehicle_details,
	estimated_fare, final_fare, created_at, accepted_at, completed_at, cancelled_at`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.RideRequest) error {
	var destLat, destLon sql.NullFloat64
	if r.Destination != nil {
		destLat = sql.NullFloat64{Float64: r.Destination.Lat, Valid: true}
		destLon = sql.NullFloat64{Float64: r.Destination.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (id, rider_id, rider_name, rider_phone, pickup_lat, pickup_lon, pickup_addr,
			dest_lat, dest_lon, dest_addr, status, estimated_fare, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.RiderID, r.RiderName, nullString(r.RiderPhone), r.Pickup.Lat, r.Pickup.Lon,
		nullString(r.PickupAddr), destLat, destLon, r.DestAddr, string(r.Status),
		r.EstimatedFare, r.CreatedAt)
	if err != nil {
		// rides_one_active_per_rider is the partial unique index enforcing
		// the at-most-one-active-request invariant at the store layer.
		if isUniqueViolation(err) {
			return ErrActiveRide
		}
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	return r, err
}

func (p *PostgresStore) ActiveForRider(ctx context.Context, riderID string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE rider_id = $1 AND status IN ('pending','accepted','ongoing') LIMIT 1`, riderID)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) ActiveForDriver(ctx context.Context, driverID string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 AND status IN ('accepted','ongoing') LIMIT 1`, driverID)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) PendingRides(ctx context.Context, limit int) ([]models.RideRequest, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE status = 'pending' ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending rides: %w", err)
	}
	return collectRides(rows)
}

func (p *PostgresStore) HistoryForRider(ctx context.Context, riderID string, limit int) ([]models.RideRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides
		WHERE rider_id = $1 AND status IN ('completed','cancelled')
		ORDER BY created_at DESC LIMIT $2`, riderID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ride history: %w", err)
	}
	return collectRides(rows)
}

func (p *PostgresStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rides WHERE status IN ('pending','accepted','ongoing')`).Scan(&n)
	return n, err
}

func (p *PostgresStore) ClaimRide(ctx context.Context, rideID, driverID, driverName, vehicle string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE rides
		SET status = 'accepted', driver_id = $1, driver_name = $2, vehicle_details = $3, accepted_at = $4
		WHERE id = $5 AND status = 'pending' AND driver_id IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM rides b WHERE b.driver_id = $1 AND b.status IN ('accepted','ongoing')
		  )`,
		driverID, driverName, vehicle, at, rideID)
	if err != nil {
		// rides_one_active_per_driver backstops the NOT EXISTS guard: two
		// concurrent claims by the same driver on different rides see
		// pre-claim snapshots, so only the index can refuse the second.
		if isUniqueViolation(err) {
			return ErrDriverBusy
		}
		return fmt.Errorf("claim ride: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim ride: %w", err)
	}
	if n == 1 {
		return nil
	}
	// Guard failed; find out why for the caller.
	var status string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM rides WHERE id = $1`, rideID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRideNotFound
	}
	if err != nil {
		return fmt.Errorf("claim ride: %w", err)
	}
	if status != string(models.StatusPending) {
		return ErrRideClaimed
	}
	return ErrDriverBusy
}

func (p *PostgresStore) BeginTrip(ctx context.Context, rideID, driverID string) error {
	return p.guardedTransition(ctx, rideID, `
		UPDATE rides SET status = 'ongoing'
		WHERE id = $1 AND driver_id = $2 AND status = 'accepted'`, rideID, driverID)
}

func (p *PostgresStore) CompleteRide(ctx context.Context, rideID, driverID string, finalFare float64, at time.Time) error {
	return p.guardedTransition(ctx, rideID, `
		UPDATE rides SET status = 'completed', final_fare = $3, completed_at = $4
		WHERE id = $1 AND driver_id = $2 AND status IN ('accepted','ongoing')`,
		rideID, driverID, finalFare, at)
}

func (p *PostgresStore) CancelRide(ctx context.Context, rideID string, at time.Time) error {
	return p.guardedTransition(ctx, rideID, `
		UPDATE rides SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status IN ('pending','accepted')`, rideID, at)
}

func (p *PostgresStore) guardedTransition(ctx context.Context, rideID, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rides WHERE id = $1)`, rideID).Scan(&exists); err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	if !exists {
		return ErrRideNotFound
	}
	return ErrBadTransition
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	var lat, lon sql.NullFloat64
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Location.Lon, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO drivers (id, name, email, vehicle_details, approved, available, lat, lon, registered_at, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.Name, d.Email, d.VehicleDetails, d.Approved, d.Available, lat, lon,
		d.RegisteredAt, d.LastSeen)
	if err != nil {
		return fmt.Errorf("insert driver: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, vehicle_details, approved, available, lat, lon, registered_at, last_seen
		FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	return d, err
}

func (p *PostgresStore) DeleteDriver(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM drivers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete driver: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (p *PostgresStore) SetApproval(ctx context.Context, id string, approved bool) error {
	return p.driverUpdate(ctx, `UPDATE drivers SET approved = $2 WHERE id = $1`, id, approved)
}

func (p *PostgresStore) SetAvailability(ctx context.Context, id string, available bool, at time.Time) error {
	return p.driverUpdate(ctx, `UPDATE drivers SET available = $2, last_seen = $3 WHERE id = $1`, id, available, at)
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, id string, loc models.Coord, at time.Time) error {
	return p.driverUpdate(ctx, `UPDATE drivers SET lat = $2, lon = $3, last_seen = $4 WHERE id = $1`, id, loc.Lat, loc.Lon, at)
}

func (p *PostgresStore) driverUpdate(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update driver: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDriverNotFound
	}
	return nil
}

func (p *PostgresStore) ListDrivers(ctx context.Context, approved bool) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, vehicle_details, approved, available, lat, lon, registered_at, last_seen
		FROM drivers WHERE approved = $1 ORDER BY registered_at`, approved)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	defer rows.Close()
	out := make([]models.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountDrivers(ctx context.Context) (total, pending, approved int, err error) {
	err = p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT approved),
		       COUNT(*) FILTER (WHERE approved)
		FROM drivers`).Scan(&total, &pending, &approved)
	return total, pending, approved, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.RideRequest, error) {
	var r models.RideRequest
	var status string
	var riderPhone, pickupAddr, driverID, driverName, vehicle sql.NullString
	var destLat, destLon, estFare, finFare sql.NullFloat64
	var acceptedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(&r.ID, &r.RiderID, &r.RiderName, &riderPhone, &r.Pickup.Lat, &r.Pickup.Lon,
		&pickupAddr, &destLat, &destLon, &r.DestAddr, &status, &driverID, &driverName,
		&vehicle, &estFare, &finFare, &r.CreatedAt, &acceptedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	r.Status = models.Status(status)
	r.RiderPhone = riderPhone.String
	r.PickupAddr = pickupAddr.String
	r.DriverID = driverID.String
	r.DriverName = driverName.String
	r.VehicleDetails = vehicle.String
	r.EstimatedFare = estFare.Float64
	r.FinalFare = finFare.Float64
	if destLat.Valid && destLon.Valid {
		r.Destination = &models.Coord{Lat: destLat.Float64, Lon: destLon.Float64}
	}
	if acceptedAt.Valid {
		r.AcceptedAt = &acceptedAt.Time
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		r.CancelledAt = &cancelledAt.Time
	}
	return &r, nil
}

func collectRides(rows *sql.Rows) ([]models.RideRequest, error) {
	defer rows.Close()
	out := make([]models.RideRequest, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var d models.Driver
	var lat, lon sql.NullFloat64
	err := row.Scan(&d.ID, &d.Name, &d.Email, &d.VehicleDetails, &d.Approved, &d.Available,
		&lat, &lon, &d.RegisteredAt, &d.LastSeen)
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		d.Location = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

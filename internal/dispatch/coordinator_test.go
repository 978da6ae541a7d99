package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/example/curblink/internal/bus"
	"github.com/example/curblink/internal/geo"
	"github.com/example/curblink/internal/geoloc"
	"github.com/example/curblink/internal/models"
	"github.com/example/curblink/internal/registry"
	"github.com/example/curblink/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	store *store.MemoryStore
	reg   *registry.Service
	coord *Coordinator
	bus   *bus.Bus
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	b := bus.New()
	gidx := geo.NewIndex(2 * time.Minute)
	log := testLogger()
	reg := registry.NewService(ms, ms, gidx, geoloc.NewStatic(), b, log)
	t.Cleanup(reg.StopAll)
	coord := NewCoordinator(ms, ms, reg, gidx, b, log)
	return &env{store: ms, reg: reg, coord: coord, bus: b}
}

func (e *env) addDriver(t *testing.T, id string, approved, available bool) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	loc := models.Coord{Lat: 34.05, Lon: -118.24}
	d := &models.Driver{
		ID: id, Name: "Driver " + id, Email: id + "@example.com",
		VehicleDetails: "Blue Prius", Approved: approved, Available: available,
		Location: &loc, RegisteredAt: now, LastSeen: now,
	}
	if err := e.store.CreateDriver(ctx, d); err != nil {
		t.Fatal(err)
	}
}

func (e *env) createRide(t *testing.T, riderID string) *models.RideRequest {
	t.Helper()
	pickup := models.Coord{Lat: 34.0522, Lon: -118.2437}
	dest := models.Coord{Lat: 34.10, Lon: -118.30}
	r, err := e.coord.CreateRequest(context.Background(), CreateInput{
		RiderID:     riderID,
		RiderName:   "Rider " + riderID,
		Pickup:      &pickup,
		Destination: &dest,
		DestAddr:    "123 Main St",
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCreateRequestStartsPending(t *testing.T) {
	e := newEnv(t)
	r := e.createRide(t, "rider1")
	if r.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
	if r.DriverID != "" {
		t.Fatalf("new request must be unbound, got driver %q", r.DriverID)
	}
	if r.EstimatedFare <= 5 {
		t.Fatalf("expected fare above base, got %f", r.EstimatedFare)
	}
}

func TestCreateRequestRejectsSecondActive(t *testing.T) {
	e := newEnv(t)
	e.createRide(t, "rider1")
	pickup := models.Coord{Lat: 1, Lon: 2}
	_, err := e.coord.CreateRequest(context.Background(), CreateInput{
		RiderID: "rider1", RiderName: "R", Pickup: &pickup, DestAddr: "somewhere",
	})
	if !errors.Is(err, ErrActiveRequestExists) {
		t.Fatalf("expected ErrActiveRequestExists, got %v", err)
	}
}

func TestCreateRequestGeocodesPickupAddress(t *testing.T) {
	e := newEnv(t)
	r, err := e.coord.CreateRequest(context.Background(), CreateInput{
		RiderID: "rider1", RiderName: "R", PickupAddr: "5th and Spring", DestAddr: "123 Main St",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Pickup.Lat == 0 && r.Pickup.Lon == 0 {
		t.Fatal("pickup was not geocoded")
	}
}

func TestCreateRequestRequiresResolvablePickup(t *testing.T) {
	e := newEnv(t)
	_, err := e.coord.CreateRequest(context.Background(), CreateInput{
		RiderID: "rider1", RiderName: "R", DestAddr: "123 Main St",
	})
	if !errors.Is(err, ErrPickupRequired) {
		t.Fatalf("expected ErrPickupRequired, got %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	e.addDriver(t, "d2", true, true)
	r := e.createRide(t, "rider1")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{"d1", "d2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, results[i] = e.coord.AcceptRequest(context.Background(), id, r.ID)
		}(i, id)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRequestAlreadyClaimed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner, got wins=%d losses=%d", wins, losses)
	}

	got, _ := e.store.GetRide(context.Background(), r.ID)
	if got.Status != models.StatusAccepted || got.DriverID == "" {
		t.Fatalf("inconsistent ride after race: %+v", got)
	}
	if got.DriverName == "" || got.VehicleDetails == "" {
		t.Fatal("driver snapshot missing on accepted ride")
	}
}

func TestAcceptRequiresEligibleDriver(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "offline", true, false)
	e.addDriver(t, "unapproved", false, true)
	r := e.createRide(t, "rider1")

	for _, id := range []string{"offline", "unapproved", "ghost"} {
		if _, err := e.coord.AcceptRequest(context.Background(), id, r.ID); !errors.Is(err, ErrDriverNotEligible) {
			t.Fatalf("driver %s: expected ErrDriverNotEligible, got %v", id, err)
		}
	}
	got, _ := e.store.GetRide(context.Background(), r.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("request must stay pending after rejected accepts, got %s", got.Status)
	}
}

func TestDriverSnapshotSurvivesProfileEdit(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	r := e.createRide(t, "rider1")
	if _, err := e.coord.AcceptRequest(context.Background(), "d1", r.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := e.store.GetRide(context.Background(), r.ID)
	if got.DriverName != "Driver d1" || got.VehicleDetails != "Blue Prius" {
		t.Fatalf("snapshot not copied: %+v", got)
	}
}

func TestCompleteAndIdempotence(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	r := e.createRide(t, "rider1")
	if _, err := e.coord.AcceptRequest(context.Background(), "d1", r.ID); err != nil {
		t.Fatal(err)
	}
	done, err := e.coord.CompleteRequest(context.Background(), "d1", r.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("bad completed ride: %+v", done)
	}
	if done.FinalFare != r.EstimatedFare {
		t.Fatalf("final fare should default to estimate, got %f want %f", done.FinalFare, r.EstimatedFare)
	}

	if _, err := e.coord.CompleteRequest(context.Background(), "d1", r.ID, 50); err == nil {
		t.Fatal("second completion must fail")
	}
	again, _ := e.store.GetRide(context.Background(), r.ID)
	if !again.CompletedAt.Equal(*done.CompletedAt) || again.FinalFare != done.FinalFare {
		t.Fatal("second completion mutated the ride")
	}
}

func TestCompleteOnlyByBoundDriver(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	e.addDriver(t, "d2", true, true)
	r := e.createRide(t, "rider1")
	if _, err := e.coord.AcceptRequest(context.Background(), "d1", r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.coord.CompleteRequest(context.Background(), "d2", r.ID, 10); !errors.Is(err, ErrNotAssignedDriver) {
		t.Fatalf("expected ErrNotAssignedDriver, got %v", err)
	}
}

func TestCancelPendingReleasesRider(t *testing.T) {
	e := newEnv(t)
	r := e.createRide(t, "rider1")
	cancelled, err := e.coord.CancelRequest(context.Background(), "rider1", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != models.StatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("bad cancelled ride: %+v", cancelled)
	}
	// constraint released: rider may request again
	e.createRide(t, "rider1")
}

func TestCancelByStranger(t *testing.T) {
	e := newEnv(t)
	r := e.createRide(t, "rider1")
	if _, err := e.coord.CancelRequest(context.Background(), "someone-else", r.ID); !errors.Is(err, ErrCancelNotAllowed) {
		t.Fatalf("expected ErrCancelNotAllowed, got %v", err)
	}
}

func TestCancelNotAllowedOnceOngoing(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	r := e.createRide(t, "rider1")
	if _, err := e.coord.AcceptRequest(context.Background(), "d1", r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.coord.BeginTrip(context.Background(), "d1", r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.coord.CancelRequest(context.Background(), "rider1", r.ID); !errors.Is(err, ErrCancelNotAllowed) {
		t.Fatalf("expected ErrCancelNotAllowed from ongoing, got %v", err)
	}
}

func TestOffersVisibilityGating(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	e.addDriver(t, "offline", true, false)
	e.addDriver(t, "unapproved", false, true)
	r := e.createRide(t, "rider1")

	ctx := context.Background()
	offers, err := e.coord.OffersFor(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(offers) != 1 || offers[0].RequestID != r.ID {
		t.Fatalf("eligible driver should see the offer, got %+v", offers)
	}
	for _, id := range []string{"offline", "unapproved"} {
		offers, err := e.coord.OffersFor(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(offers) != 0 {
			t.Fatalf("driver %s must not see offers, got %+v", id, offers)
		}
	}
}

func TestDeclineIsDriverLocal(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	e.addDriver(t, "d2", true, true)
	r := e.createRide(t, "rider1")
	ctx := context.Background()

	e.coord.DeclineOffer("d1", r.ID)

	got, _ := e.store.GetRide(ctx, r.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("decline must not mutate the request, got %s", got.Status)
	}
	offers, _ := e.coord.OffersFor(ctx, "d1")
	if len(offers) != 0 {
		t.Fatal("declined offer still visible to declining driver")
	}
	offers, _ = e.coord.OffersFor(ctx, "d2")
	if len(offers) != 1 {
		t.Fatal("other drivers must keep seeing the request")
	}
}

func TestGoingUnavailableKeepsAcceptedRide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.addDriver(t, "d1", true, false)
	if err := e.store.SetApproval(ctx, "d1", true); err != nil {
		t.Fatal(err)
	}
	if _, err := e.reg.SetAvailability(ctx, "d1", true); err != nil {
		t.Fatal(err)
	}
	r := e.createRide(t, "rider1")
	if _, err := e.coord.AcceptRequest(ctx, "d1", r.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := e.reg.SetAvailability(ctx, "d1", false); err != nil {
		t.Fatal(err)
	}
	got, _ := e.store.GetRide(ctx, r.ID)
	if got.Status != models.StatusAccepted || got.DriverID != "d1" {
		t.Fatalf("accepted ride must survive going offline: %+v", got)
	}
	// but no new offers are shown
	e.createRide(t, "rider2")
	offers, _ := e.coord.OffersFor(ctx, "d1")
	if len(offers) != 0 {
		t.Fatal("offline driver must not see pending requests")
	}
	// and the held ride can still be completed
	if _, err := e.coord.CompleteRequest(ctx, "d1", r.ID, 20); err != nil {
		t.Fatal(err)
	}
}

type recordingOffers struct {
	mu    sync.Mutex
	sends map[string][]models.Offer
}

func (r *recordingOffers) Offer(driverID string, o models.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sends == nil {
		r.sends = make(map[string][]models.Offer)
	}
	r.sends[driverID] = append(r.sends[driverID], o)
	return nil
}

func TestCreateFansOutToNearbyDrivers(t *testing.T) {
	e := newEnv(t)
	rec := &recordingOffers{}
	e.coord.Offers = rec

	e.coord.Geo.Upsert(geo.Entry{
		DriverID: "d1", Loc: models.Coord{Lat: 34.05, Lon: -118.24},
		Approved: true, Available: true, Updated: time.Now(),
	})
	e.coord.Geo.Upsert(geo.Entry{
		DriverID: "stale", Loc: models.Coord{Lat: 34.05, Lon: -118.24},
		Approved: true, Available: true, Updated: time.Now().Add(-time.Hour),
	})

	r := e.createRide(t, "rider1")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if got := rec.sends["d1"]; len(got) != 1 || got[0].RequestID != r.ID {
		t.Fatalf("expected one offer for d1, got %+v", got)
	}
	if _, ok := rec.sends["stale"]; ok {
		t.Fatal("stale driver must not receive offers")
	}
}

func TestDeclineSetStaysBounded(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < maxDeclinedPerDriver+40; i++ {
		e.coord.DeclineOffer("d1", "req-"+strconv.Itoa(i))
	}
	e.coord.mu.Lock()
	n := len(e.coord.declined["d1"])
	_, newest := e.coord.declined["d1"]["req-"+strconv.Itoa(maxDeclinedPerDriver+39)]
	e.coord.mu.Unlock()
	if n > maxDeclinedPerDriver {
		t.Fatalf("decline set grew past the cap: %d", n)
	}
	if !newest {
		t.Fatal("most recent decline must be honored")
	}
}

func TestSettledRequestFreesDeclineState(t *testing.T) {
	e := newEnv(t)
	e.addDriver(t, "d1", true, true)
	e.addDriver(t, "d2", true, true)
	r := e.createRide(t, "rider1")
	ctx := context.Background()

	e.coord.DeclineOffer("d2", r.ID)
	if _, err := e.coord.AcceptRequest(ctx, "d1", r.ID); err != nil {
		t.Fatal(err)
	}

	e.coord.mu.Lock()
	_, kept := e.coord.declined["d2"]
	e.coord.mu.Unlock()
	if kept {
		t.Fatal("settled request must release the decline entry")
	}
}

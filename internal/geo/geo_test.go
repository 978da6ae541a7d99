package geo

import (
	"testing"
	"time"

	"github.com/example/curblink/internal/models"
)

func TestNearbyFiltersIneligibleEntries(t *testing.T) {
	idx := NewIndex(time.Minute)
	now := time.Now()
	loc := models.Coord{Lat: 34.05, Lon: -118.24}
	idx.Upsert(Entry{DriverID: "ok", Loc: loc, Approved: true, Available: true, Updated: now})
	idx.Upsert(Entry{DriverID: "offline", Loc: loc, Approved: true, Available: false, Updated: now})
	idx.Upsert(Entry{DriverID: "unapproved", Loc: loc, Approved: false, Available: true, Updated: now})
	idx.Upsert(Entry{DriverID: "stale", Loc: loc, Approved: true, Available: true, Updated: now.Add(-2 * time.Minute)})

	got := idx.Nearby(34.05, -118.24, 10)
	if len(got) != 1 || got[0].DriverID != "ok" {
		t.Fatalf("expected only the eligible entry, got %+v", got)
	}
}

func TestNearbyOrdersByDistance(t *testing.T) {
	idx := NewIndex(time.Minute)
	now := time.Now()
	idx.Upsert(Entry{DriverID: "far", Loc: models.Coord{Lat: 35.0, Lon: -118.24}, Approved: true, Available: true, Updated: now})
	idx.Upsert(Entry{DriverID: "close", Loc: models.Coord{Lat: 34.06, Lon: -118.24}, Approved: true, Available: true, Updated: now})

	got := idx.Nearby(34.05, -118.24, 1)
	if len(got) != 1 || got[0].DriverID != "close" {
		t.Fatalf("expected closest driver first, got %+v", got)
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	idx := NewIndex(time.Minute)
	idx.Upsert(Entry{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 1}, Approved: true, Available: true, Updated: time.Now()})
	idx.Remove("d1")
	if got := idx.Nearby(1, 1, 10); len(got) != 0 {
		t.Fatalf("expected empty pool, got %+v", got)
	}
}

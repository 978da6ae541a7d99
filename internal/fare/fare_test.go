package fare

import (
	"errors"
	"math"
	"testing"

	"github.com/example/curblink/internal/models"
)

func TestEstimateSamePointIsBaseFare(t *testing.T) {
	p := models.Coord{Lat: 34.0522, Lon: -118.2437}
	if got := (StubEstimator{}).Estimate(p, p); got != 5.0 {
		t.Fatalf("expected base fare, got %f", got)
	}
}

func TestEstimateGrowsWithDistance(t *testing.T) {
	p := models.Coord{Lat: 34.0522, Lon: -118.2437}
	near := models.Coord{Lat: 34.06, Lon: -118.25}
	far := models.Coord{Lat: 34.20, Lon: -118.50}
	e := StubEstimator{}
	a, b := e.Estimate(p, near), e.Estimate(p, far)
	if a <= 5.0 || b <= a {
		t.Fatalf("fare not monotonic in distance: near=%f far=%f", a, b)
	}
	// rounded to cents
	if math.Abs(a*100-math.Round(a*100)) > 1e-9 {
		t.Fatalf("fare not rounded to cents: %f", a)
	}
}

func TestStubGeocoder(t *testing.T) {
	g := NewStubGeocoder()
	c, err := g.Geocode("123 Main St")
	if err != nil {
		t.Fatal(err)
	}
	if c.Lat != 34.0522 || c.Lon != -118.2437 {
		t.Fatalf("unexpected coordinate: %+v", c)
	}
	if _, err := g.Geocode(""); !errors.Is(err, ErrAddressNotFound) {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestHaversineZero(t *testing.T) {
	p := models.Coord{}
	if d := Haversine(p, p); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

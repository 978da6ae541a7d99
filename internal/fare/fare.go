// Package fare holds the placeholder fare/geocoding estimator. Estimates are
// advisory only; they never gate a state transition.
package fare

import (
	"errors"
	"math"

	"github.com/example/curblink/internal/models"
)

var ErrAddressNotFound = errors.New("address not found")

// Geocoder resolves free-text addresses to coordinates.
type Geocoder interface {
	Geocode(address string) (models.Coord, error)
}

// Estimator produces a fare estimate for a pickup/destination pair.
type Estimator interface {
	Estimate(pickup, dest models.Coord) float64
}

const (
	baseFare    = 5.0
	ratePerUnit = 1.5
)

// StubEstimator is the placeholder distance heuristic: base fare plus a
// flat-earth degree distance scaled to rough kilometres.
type StubEstimator struct{}

func (StubEstimator) Estimate(pickup, dest models.Coord) float64 {
	dLat := math.Abs(pickup.Lat - dest.Lat)
	dLon := math.Abs(pickup.Lon - dest.Lon)
	dist := math.Sqrt(dLat*dLat+dLon*dLon) * 100
	f := baseFare + dist*ratePerUnit
	return math.Round(f*100) / 100
}

// StubGeocoder resolves every non-empty address to a fixed downtown
// coordinate until a real geocoding backend is wired in.
type StubGeocoder struct {
	Coord models.Coord
}

func NewStubGeocoder() *StubGeocoder {
	return &StubGeocoder{Coord: models.Coord{Lat: 34.0522, Lon: -118.2437}}
}

func (g *StubGeocoder) Geocode(address string) (models.Coord, error) {
	if address == "" {
		return models.Coord{}, ErrAddressNotFound
	}
	return g.Coord, nil
}

// Haversine distance in meters.
func Haversine(a, b models.Coord) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return R * c
}

// Package geoloc is the boundary to the device geolocation provider.
// Acquisition is fallible; permission denial and timeout are distinguished
// so callers can phrase the warning accordingly. A failed fix never changes
// availability state by itself.
package geoloc

import (
	"context"
	"errors"
	"time"

	"github.com/example/curblink/internal/models"
)

var (
	ErrPermissionDenied = errors.New("geolocation permission denied")
	ErrTimeout          = errors.New("geolocation timed out")
)

// DefaultTimeout bounds a single location fetch.
const DefaultTimeout = 10 * time.Second

type Provider interface {
	Current(ctx context.Context) (models.Coord, error)
}

// Static always reports a fixed coordinate. It stands in for a real
// positioning backend during development and in tests.
type Static struct {
	Coord models.Coord
}

func NewStatic() *Static {
	return &Static{Coord: models.Coord{Lat: 34.0522, Lon: -118.2437}}
}

func (s *Static) Current(ctx context.Context) (models.Coord, error) {
	select {
	case <-ctx.Done():
		return models.Coord{}, ErrTimeout
	default:
		return s.Coord, nil
	}
}

// Func adapts a closure to Provider; handy for failure-injection in tests.
type Func func(ctx context.Context) (models.Coord, error)

func (f Func) Current(ctx context.Context) (models.Coord, error) { return f(ctx) }

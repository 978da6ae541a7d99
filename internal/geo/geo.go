package geo

import (
	"sync"
	"time"

	"github.com/example/curblink/internal/fare"
	"github.com/example/curblink/internal/models"
)

// Entry is a driver's position in the matching pool, with the flags that
// gate offer visibility.
type Entry struct {
	DriverID  string
	Loc       models.Coord
	Approved  bool
	Available bool
	Updated   time.Time
}

// Geo is the matching-pool view consumed by the dispatch coordinator.
// Nearby never returns a driver whose fix is older than the staleness
// window, or who is offline or unapproved.
type Geo interface {
	Upsert(e Entry)
	Remove(driverID string)
	Nearby(lat, lon float64, limit int) []Entry
}

// Index is the in-memory fallback used when Redis is not configured.
type Index struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	staleness time.Duration
}

func NewIndex(staleness time.Duration) *Index {
	if staleness <= 0 {
		staleness = 2 * time.Minute
	}
	return &Index{entries: make(map[string]Entry), staleness: staleness}
}

func (g *Index) Upsert(e Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.Updated.IsZero() {
		e.Updated = time.Now()
	}
	g.entries[e.DriverID] = e
}

func (g *Index) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, driverID)
}

// naive scan; in prod use geo-hash or H3
func (g *Index) Nearby(lat, lon float64, limit int) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		e    Entry
		dist float64
	}
	cutoff := time.Now().Add(-g.staleness)
	arr := make([]pair, 0, len(g.entries))
	for _, e := range g.entries {
		if !e.Available || !e.Approved {
			continue
		}
		if e.Updated.Before(cutoff) {
			// stale fix reads as unknown position
			continue
		}
		dist := fare.Haversine(models.Coord{Lat: lat, Lon: lon}, e.Loc)
		arr = append(arr, pair{e, dist})
	}
	n := limit
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].e)
	}
	return out
}

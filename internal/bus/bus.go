// Package bus is the in-process pub/sub channel for dispatch state changes.
// Components hold explicit subscription handles and must close them on
// teardown; there is no ambient global listener state.
package bus

import (
	"sync"
	"time"

	"github.com/example/curblink/internal/models"
)

type EventType string

const (
	RequestCreated     EventType = "request.created"
	RequestAccepted    EventType = "request.accepted"
	TripStarted        EventType = "request.ongoing"
	RequestCompleted   EventType = "request.completed"
	RequestCancelled   EventType = "request.cancelled"
	DriverAvailability EventType = "driver.availability"
)

type Event struct {
	Type EventType
	At   time.Time

	// Ride is set for request.* events.
	Ride *models.RideRequest

	// DriverID/Available are set for driver.availability events.
	DriverID  string
	Available bool
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscription delivers events on C until Close. A slow subscriber does not
// block publishers; events past the buffer are dropped for that subscriber
// (the store remains the source of truth, not the bus).
type Subscription struct {
	bus  *Bus
	id   int
	ch   chan Event
	once sync.Once
}

func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{bus: b, id: b.nextID, ch: make(chan Event, buffer)}
	b.subs[s.id] = s
	b.nextID++
	return s
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

package bus

import (
	"testing"

	"github.com/example/curblink/internal/models"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	defer s1.Close()
	defer s2.Close()

	b.Publish(Event{Type: RequestCreated, Ride: &models.RideRequest{ID: "r1"}})

	for _, s := range []*Subscription{s1, s2} {
		ev := <-s.C()
		if ev.Type != RequestCreated || ev.Ride.ID != "r1" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.At.IsZero() {
			t.Fatal("expected publish to stamp the event time")
		}
	}
}

func TestClosedSubscriptionStopsReceiving(t *testing.T) {
	b := New()
	s := b.Subscribe(1)
	s.Close()
	s.Close() // idempotent

	b.Publish(Event{Type: RequestAccepted})

	if _, ok := <-s.C(); ok {
		t.Fatal("expected closed channel to yield no events")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	s := b.Subscribe(1)
	defer s.Close()

	b.Publish(Event{Type: RequestCreated})
	b.Publish(Event{Type: RequestCancelled}) // buffer full, dropped

	ev := <-s.C()
	if ev.Type != RequestCreated {
		t.Fatalf("expected the first event, got %v", ev.Type)
	}
	select {
	case ev := <-s.C():
		t.Fatalf("expected no second event, got %v", ev.Type)
	default:
	}
}

package push

import (
	"context"
	"log/slog"

	"github.com/example/curblink/internal/bus"
)

// Forwarder routes bus events to the relevant sessions: status updates to
// the rider and the bound driver, and offer-cleared notices to every
// connected driver once a request leaves pending. A driver who lost the
// claim race learns about it only by their offer view going away.
type Forwarder struct {
	Drivers *Registry
	Riders  *Registry
	Log     *slog.Logger
}

// Run consumes the subscription until the context ends. The caller owns the
// subscription handle and must close it on teardown.
func (f *Forwarder) Run(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			f.handle(ev)
		}
	}
}

func (f *Forwarder) handle(ev bus.Event) {
	switch ev.Type {
	case bus.RequestAccepted, bus.TripStarted, bus.RequestCompleted, bus.RequestCancelled:
		if ev.Ride == nil {
			return
		}
		msg := Message{Type: string(ev.Type), Ride: ev.Ride}
		_ = f.Riders.Send(ev.Ride.RiderID, msg)
		if ev.Ride.DriverID != "" {
			_ = f.Drivers.Send(ev.Ride.DriverID, msg)
		}
		// The request is no longer pending, so no driver should keep
		// showing it as an offer.
		f.Drivers.Broadcast(Message{Type: "offer.cleared", RequestID: ev.Ride.ID})
	case bus.RequestCreated:
		if ev.Ride != nil {
			_ = f.Riders.Send(ev.Ride.RiderID, Message{Type: string(ev.Type), Ride: ev.Ride})
		}
	case bus.DriverAvailability:
		if !ev.Available {
			// Going offline clears the driver's own pending offer view.
			_ = f.Drivers.Send(ev.DriverID, Message{Type: "offers.cleared"})
		}
	}
}

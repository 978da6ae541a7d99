// Package push delivers state-change messages to connected rider and driver
// apps over WebSocket. It renders nothing; it only forwards events the
// dispatch core publishes.
package push

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/curblink/internal/models"
)

var ErrNoSession = errors.New("no connected session")

// Session wraps one WebSocket connection; writes are serialized.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry holds connected sessions keyed by principal ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(id string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[id]; ok {
		_ = old.conn.Close()
	}
	r.sessions[id] = &Session{conn: conn}
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		_ = s.conn.Close()
		delete(r.sessions, id)
	}
}

func (r *Registry) Send(id string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}

// Broadcast sends to every connected session, best-effort.
func (r *Registry) Broadcast(v any) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Send(id, v)
	}
}

// Message is the wire envelope pushed to apps.
type Message struct {
	Type      string              `json:"type"`
	Offer     *models.Offer       `json:"offer,omitempty"`
	Ride      *models.RideRequest `json:"ride,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
}

// DriverOffers adapts the driver registry to the coordinator's OfferSender.
type DriverOffers struct {
	Drivers *Registry
	Log     *slog.Logger
}

func (d *DriverOffers) Offer(driverID string, offer models.Offer) error {
	o := offer
	err := d.Drivers.Send(driverID, Message{Type: "offer", Offer: &o})
	if err != nil && !errors.Is(err, ErrNoSession) && d.Log != nil {
		d.Log.Warn("ws offer send failed", "driver_id", driverID, "err", err)
	}
	return err
}

// Package roles resolves an authenticated principal to exactly one role.
// Role records live in three disjoint sets; precedence is
// admin > driver > customer. A principal matching none is authenticated but
// not authorized and gets no dashboard access.
package roles

import (
	"context"
	"errors"
	"sync"

	"github.com/example/curblink/internal/models"
	"github.com/example/curblink/internal/store"
)

// RecordChecker reports whether a role record exists for a principal.
type RecordChecker interface {
	Exists(ctx context.Context, principalID string) (bool, error)
}

type Resolver struct {
	Admins    RecordChecker
	Drivers   RecordChecker
	Customers RecordChecker
}

func (r *Resolver) Resolve(ctx context.Context, principalID string) (models.Role, error) {
	checks := []struct {
		c    RecordChecker
		role models.Role
	}{
		{r.Admins, models.RoleAdmin},
		{r.Drivers, models.RoleDriver},
		{r.Customers, models.RoleCustomer},
	}
	for _, ch := range checks {
		if ch.c == nil {
			continue
		}
		ok, err := ch.c.Exists(ctx, principalID)
		if err != nil {
			return models.RoleNone, err
		}
		if ok {
			return ch.role, nil
		}
	}
	return models.RoleNone, nil
}

// MemberSet is a concurrency-safe in-memory role record set, used for the
// admin and customer collections.
type MemberSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemberSet(ids ...string) *MemberSet {
	s := &MemberSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *MemberSet) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *MemberSet) Remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *MemberSet) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}

// DriverRecords adapts the driver registry store to a role record check.
type DriverRecords struct {
	Store store.DriverStore
}

func (d DriverRecords) Exists(ctx context.Context, principalID string) (bool, error) {
	_, err := d.Store.GetDriver(ctx, principalID)
	if errors.Is(err, store.ErrDriverNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

package roles

import (
	"context"
	"testing"
	"time"

	"github.com/example/curblink/internal/models"
	"github.com/example/curblink/internal/store"
)

func newResolver(t *testing.T) (*Resolver, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return &Resolver{
		Admins:    NewMemberSet("boss"),
		Drivers:   DriverRecords{Store: ms},
		Customers: NewMemberSet("rider1"),
	}, ms
}

func TestResolvePrecedence(t *testing.T) {
	r, ms := newResolver(t)
	ctx := context.Background()
	_ = ms.CreateDriver(ctx, &models.Driver{ID: "d1", Name: "D", Email: "d@example.com", RegisteredAt: time.Now(), LastSeen: time.Now()})

	cases := []struct {
		id   string
		want models.Role
	}{
		{"boss", models.RoleAdmin},
		{"d1", models.RoleDriver},
		{"rider1", models.RoleCustomer},
		{"stranger", models.RoleNone},
	}
	for _, tc := range cases {
		got, err := r.Resolve(ctx, tc.id)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.id, tc.want, got)
		}
	}
}

func TestAdminWinsOverOtherRecords(t *testing.T) {
	r, ms := newResolver(t)
	ctx := context.Background()
	// a principal with records in more than one set resolves by precedence
	r.Admins.(*MemberSet).Add("both")
	_ = ms.CreateDriver(ctx, &models.Driver{ID: "both", Name: "B", Email: "b@example.com", RegisteredAt: time.Now(), LastSeen: time.Now()})

	got, err := r.Resolve(ctx, "both")
	if err != nil {
		t.Fatal(err)
	}
	if got != models.RoleAdmin {
		t.Fatalf("expected admin precedence, got %s", got)
	}
}

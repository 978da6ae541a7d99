package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
)

// ClaimRide maps a 23505 from rides_one_active_per_driver to ErrDriverBusy;
// the detection must survive fmt.Errorf wrapping.
func TestUniqueViolationDetection(t *testing.T) {
	dup := &pq.Error{Code: "23505", Constraint: "rides_one_active_per_driver"}
	if !isUniqueViolation(dup) {
		t.Fatal("expected a 23505 pq error to read as a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("claim ride: %w", dup)) {
		t.Fatal("expected detection through wrapping")
	}
	if isUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Fatal("foreign key violation must not read as unique")
	}
	if isUniqueViolation(errors.New("claim ride: connection reset")) {
		t.Fatal("plain error must not read as unique")
	}
}

// Package simserver is a small local reservation server used to
// exercise the booking client end to end: it arbitrates seat locks
// with a TTL, tracks bookings, and pushes seat events to connected
// clients.  It stands in for the production backend during development
// and integration tests.
package simserver

import (
	"context"
	"errors"
	"time"
)

// ErrSeatsHeld is the expected-contention answer to an acquire attempt:
// at least one requested seat is already held by someone else.
var ErrSeatsHeld = errors.New("seats already held")

// Hold is a live time-bounded lock on a set of seats, owned by one
// guest and correlated by an opaque token.
type Hold struct {
	Token     string    `json:"token"`
	SlotID    string    `json:"slot_id"`
	GuestID   string    `json:"guest_id"`
	SeatIDs   []string  `json:"seat_ids"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HoldStore arbitrates seat holds.  Acquire is all-or-nothing across
// the hold's seat list; expired holds behave as absent everywhere.
// Two implementations exist: redis (authoritative TTL, shared between
// server instances) and in-memory (zero dependencies, used when redis
// is unreachable).
type HoldStore interface {
	Acquire(ctx context.Context, h Hold) error
	Release(ctx context.Context, token string) (Hold, bool, error)
	Get(ctx context.Context, token string) (Hold, bool, error)
	HeldSeats(ctx context.Context, slotID string) ([]string, error)
}

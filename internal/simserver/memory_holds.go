package simserver

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

// MemoryHoldStore keeps holds in process memory.  Expiry is evaluated
// lazily against the injected clock on every read, so a hold past its
// deadline is invisible even before the janitor timer fires.
type MemoryHoldStore struct {
	clk clock.Clock

	mu    sync.Mutex
	holds map[string]Hold              // token -> hold
	seats map[string]map[string]string // slot -> seat -> token
}

// NewMemoryHoldStore returns an empty store using clk for expiry.
func NewMemoryHoldStore(clk clock.Clock) *MemoryHoldStore {
	return &MemoryHoldStore{
		clk:   clk,
		holds: make(map[string]Hold),
		seats: make(map[string]map[string]string),
	}
}

// Acquire stores the hold unless any of its seats is already held.
func (s *MemoryHoldStore) Acquire(ctx context.Context, h Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	slotSeats := s.seats[h.SlotID]
	for _, id := range h.SeatIDs {
		if _, taken := slotSeats[id]; taken {
			return ErrSeatsHeld
		}
	}
	if slotSeats == nil {
		slotSeats = make(map[string]string)
		s.seats[h.SlotID] = slotSeats
	}
	for _, id := range h.SeatIDs {
		slotSeats[id] = h.Token
	}
	s.holds[h.Token] = h
	return nil
}

// Release removes the hold and frees its seats.  The second return is
// false for unknown or already-expired tokens.
func (s *MemoryHoldStore) Release(ctx context.Context, token string) (Hold, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	h, ok := s.holds[token]
	if !ok {
		return Hold{}, false, nil
	}
	s.dropLocked(h)
	return h, true, nil
}

// Get returns the live hold for a token.
func (s *MemoryHoldStore) Get(ctx context.Context, token string) (Hold, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	h, ok := s.holds[token]
	return h, ok, nil
}

// HeldSeats lists every seat currently held in a slot.
func (s *MemoryHoldStore) HeldSeats(ctx context.Context, slotID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	out := make([]string, 0, len(s.seats[slotID]))
	for id := range s.seats[slotID] {
		out = append(out, id)
	}
	return out, nil
}

// expireLocked sweeps holds past their deadline; callers hold s.mu.
func (s *MemoryHoldStore) expireLocked() {
	now := s.clk.Now()
	for _, h := range s.holds {
		if !h.ExpiresAt.After(now) {
			s.dropLocked(h)
		}
	}
}

func (s *MemoryHoldStore) dropLocked(h Hold) {
	delete(s.holds, h.Token)
	for _, id := range h.SeatIDs {
		if s.seats[h.SlotID][id] == h.Token {
			delete(s.seats[h.SlotID], id)
		}
	}
}

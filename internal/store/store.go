// Package store implements the client-side source of truth for seat
// availability.  It reconciles the local user's optimistic selections
// with authoritative remote events pushed by the server; when the two
// disagree, remote wins.
package store

import (
	"sync"

	"github.com/farebound/tripseats/internal/model"
)

// ApplyResult reports the side effects of applying a remote event so the
// caller can route them: an eviction means another user won a seat the
// local user had selected, and an invalidated session means a seat held
// by the client's own lock session was booked through another channel.
type ApplyResult struct {
	Changed            bool // canonical status or selection actually changed
	Evicted            bool // seat was removed from the local selection
	SessionInvalidated bool // seat belonged to the current lock session and got booked
}

// Store holds the canonical status partition for every seat in a slot
// plus the local selection overlay.  Mutation happens only through its
// exported methods; both the UI and the sync client go through here.
//
// The selection keeps insertion order so the UI can display seats in
// the order the user picked them.
type Store struct {
	mu        sync.Mutex
	statuses  map[string]model.Status
	selection []string
	session   map[string]struct{} // seats referenced by the pending/active lock session

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New returns an empty store.  Call Load to seed it from a seat-map read.
func New() *Store {
	return &Store{
		statuses: make(map[string]model.Status),
		session:  make(map[string]struct{}),
		subs:     make(map[int]func()),
	}
}

// Load resets the store to the partition carried by a seat-map read.
// Unknown statuses in the payload are ignored.  Any selection or session
// marks are cleared; callers load before selecting.
func (s *Store) Load(m model.SeatMap) {
	s.mu.Lock()
	s.statuses = make(map[string]model.Status, len(m.Seats))
	for _, group := range []struct {
		ids    []string
		status model.Status
	}{
		{m.Available, model.StatusAvailable},
		{m.Locked, model.StatusLocked},
		{m.Booked, model.StatusBooked},
		{m.Blocked, model.StatusBlocked},
	} {
		for _, id := range group.ids {
			s.statuses[id] = group.status
		}
	}
	s.selection = nil
	s.session = make(map[string]struct{})
	s.mu.Unlock()
	s.notify()
}

// Select adds a seat to the local selection.  It succeeds only for seats
// that are currently available (or already selected by this user, in
// which case it is an idempotent no-op).  A false return is the normal
// outcome of losing a race with another user, not an error.
func (s *Store) Select(seatID string) bool {
	s.mu.Lock()
	status, known := s.statuses[seatID]
	if !known || status != model.StatusAvailable {
		s.mu.Unlock()
		return false
	}
	if s.selectedLocked(seatID) {
		s.mu.Unlock()
		return true // already selected, nothing to do
	}
	s.selection = append(s.selection, seatID)
	s.mu.Unlock()
	s.notify()
	return true
}

// Deselect removes a seat from the local selection.  Seats referenced by
// the current lock session cannot be deselected until the session ends;
// those calls are no-ops.
func (s *Store) Deselect(seatID string) {
	s.mu.Lock()
	if _, held := s.session[seatID]; held || !s.selectedLocked(seatID) {
		s.mu.Unlock()
		return
	}
	s.removeSelectionLocked(seatID)
	s.mu.Unlock()
	s.notify()
}

// ClearSelection drops every selected seat that is not referenced by the
// current lock session.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	kept := s.selection[:0]
	changed := false
	for _, id := range s.selection {
		if _, held := s.session[id]; held {
			kept = append(kept, id)
		} else {
			changed = true
		}
	}
	s.selection = kept
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// MarkSession records the seats referenced by an in-flight or active
// lock session.  While marked, those seats cannot be deselected and a
// remote seat_locked for them is treated as confirmation of our own
// lock rather than a lost race.
func (s *Store) MarkSession(seatIDs []string) {
	s.mu.Lock()
	s.session = make(map[string]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		s.session[id] = struct{}{}
	}
	s.mu.Unlock()
}

// ClearSession removes all session marks, making the seats deselectable
// again.
func (s *Store) ClearSession() {
	s.mu.Lock()
	s.session = make(map[string]struct{})
	s.mu.Unlock()
}

// Apply reconciles one remote event against local state.  Remote wins:
// the canonical status always follows the event, and the selection is
// evicted when the event proves another user owns the seat.  Applying
// the same event twice yields the same state (idempotence), and a
// booked seat never leaves booked (terminality).
func (s *Store) Apply(ev model.SeatEvent) ApplyResult {
	s.mu.Lock()
	var res ApplyResult
	current := s.statuses[ev.SeatID]

	switch ev.Kind {
	case model.EventSeatLocked:
		// Booked is terminal and blocked seats are not sellable, so a
		// lock event for either is stale noise from the channel.
		if current == model.StatusBooked || current == model.StatusBlocked {
			break
		}
		if current != model.StatusLocked {
			s.statuses[ev.SeatID] = model.StatusLocked
			res.Changed = true
		}
		_, ours := s.session[ev.SeatID]
		if s.selectedLocked(ev.SeatID) && !ours {
			// Another user won the race for a seat we had provisionally
			// selected.
			s.removeSelectionLocked(ev.SeatID)
			res.Evicted = true
			res.Changed = true
		}
	case model.EventSeatUnlocked:
		if current == model.StatusBooked || current == model.StatusBlocked {
			break
		}
		if current != model.StatusAvailable {
			s.statuses[ev.SeatID] = model.StatusAvailable
			res.Changed = true
		}
		// The selection is left untouched: if the user still has the
		// seat selected it simply becomes provisional again.
	case model.EventSeatBooked:
		if current != model.StatusBooked {
			s.statuses[ev.SeatID] = model.StatusBooked
			res.Changed = true
		}
		if s.selectedLocked(ev.SeatID) {
			s.removeSelectionLocked(ev.SeatID)
			res.Evicted = true
			res.Changed = true
		}
		if _, ours := s.session[ev.SeatID]; ours {
			// A seat inside our own session was booked through another
			// channel; the lock session manager must be told.
			delete(s.session, ev.SeatID)
			res.SessionInvalidated = true
		}
	}
	s.mu.Unlock()
	if res.Changed {
		s.notify()
	}
	return res
}

// Status returns the canonical status of a seat.  Unknown seats read as
// available so a sparse seat map still renders something sensible.
func (s *Store) Status(seatID string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[seatID]; ok {
		return st
	}
	return model.StatusAvailable
}

// Selected reports whether the local user currently has the seat in the
// selection overlay.
func (s *Store) Selected(seatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked(seatID)
}

// Selection returns the selected seat ids in the order they were picked.
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.selection))
	copy(out, s.selection)
	return out
}

// Subscribe registers fn to run after every state change and returns a
// function that removes the subscription.  Callbacks run synchronously
// on the mutating goroutine and must not call back into the store.
func (s *Store) Subscribe(fn func()) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// selectedLocked reports selection membership; callers hold s.mu.
func (s *Store) selectedLocked(seatID string) bool {
	for _, id := range s.selection {
		if id == seatID {
			return true
		}
	}
	return false
}

// removeSelectionLocked removes seatID preserving order; callers hold s.mu.
func (s *Store) removeSelectionLocked(seatID string) {
	for i, id := range s.selection {
		if id == seatID {
			s.selection = append(s.selection[:i], s.selection[i+1:]...)
			return
		}
	}
}

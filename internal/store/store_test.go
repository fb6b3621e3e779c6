package store

import (
	"math/rand"
	"testing"

	"github.com/farebound/tripseats/internal/model"
)

func seedMap() model.SeatMap {
	return model.SeatMap{
		SlotID:    "slot-1",
		Rows:      2,
		Cols:      3,
		Available: []string{"A1", "A2", "A3", "B1"},
		Locked:    []string{"B2"},
		Booked:    []string{"B3"},
		Blocked:   []string{"D1"},
	}
}

func newSeeded() *Store {
	s := New()
	s.Load(seedMap())
	return s
}

func TestSelectDeselectRoundTrip(t *testing.T) {
	s := newSeeded()
	if !s.Select("A1") {
		t.Fatal("select of available seat failed")
	}
	if got := s.Selection(); len(got) != 1 || got[0] != "A1" {
		t.Fatalf("selection = %v, want [A1]", got)
	}
	s.Deselect("A1")
	if got := s.Selection(); len(got) != 0 {
		t.Fatalf("selection after deselect = %v, want empty", got)
	}
}

func TestSelectIsIdempotent(t *testing.T) {
	s := newSeeded()
	if !s.Select("A1") || !s.Select("A1") {
		t.Fatal("repeated select of own seat should keep succeeding")
	}
	if got := s.Selection(); len(got) != 1 {
		t.Fatalf("selection = %v, want exactly one A1", got)
	}
}

func TestSelectRejectsUnavailableSeats(t *testing.T) {
	for _, seat := range []string{"B2", "B3", "D1", "nope"} {
		s := newSeeded()
		if s.Select(seat) {
			t.Errorf("Select(%q) succeeded, want silent rejection", seat)
		}
		if len(s.Selection()) != 0 {
			t.Errorf("Select(%q) mutated the selection", seat)
		}
	}
}

func TestSelectionOrderPreserved(t *testing.T) {
	s := newSeeded()
	for _, id := range []string{"A3", "A1", "B1"} {
		if !s.Select(id) {
			t.Fatalf("select %s failed", id)
		}
	}
	got := s.Selection()
	want := []string{"A3", "A1", "B1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection = %v, want %v", got, want)
		}
	}
}

// A foreign seat_locked for a seat we had provisionally selected means
// another user won the race: the seat leaves our selection and its
// canonical status becomes locked.
func TestForeignLockEvictsSelection(t *testing.T) {
	s := newSeeded()
	if !s.Select("A1") {
		t.Fatal("select failed")
	}
	res := s.Apply(model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "A1"})
	if !res.Evicted {
		t.Fatal("expected eviction result")
	}
	if s.Selected("A1") {
		t.Fatal("A1 still selected after foreign lock")
	}
	if got := s.Status("A1"); got != model.StatusLocked {
		t.Fatalf("status = %s, want locked", got)
	}
}

// A seat_locked for a seat inside our own lock session is confirmation,
// not a lost race: the selection survives.
func TestOwnLockConfirmationKeepsSelection(t *testing.T) {
	s := newSeeded()
	s.Select("A1")
	s.MarkSession([]string{"A1"})
	res := s.Apply(model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "A1"})
	if res.Evicted {
		t.Fatal("own lock confirmation must not evict")
	}
	if !s.Selected("A1") {
		t.Fatal("A1 dropped from selection by own lock confirmation")
	}
	if got := s.Status("A1"); got != model.StatusLocked {
		t.Fatalf("status = %s, want locked", got)
	}
}

func TestDuplicateLockedDelivery(t *testing.T) {
	s := newSeeded()
	ev := model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "A2"}
	s.Apply(ev)
	res := s.Apply(ev)
	if res.Changed || res.Evicted {
		t.Fatalf("second delivery reported side effects: %+v", res)
	}
	if got := s.Status("A2"); got != model.StatusLocked {
		t.Fatalf("status = %s, want locked", got)
	}
}

func TestUnlockedLeavesSelectionUntouched(t *testing.T) {
	s := newSeeded()
	s.Select("A1")
	s.Apply(model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "B1"})
	s.Apply(model.SeatEvent{Kind: model.EventSeatUnlocked, SeatID: "B1"})
	if got := s.Status("B1"); got != model.StatusAvailable {
		t.Fatalf("status = %s, want available", got)
	}
	if !s.Selected("A1") {
		t.Fatal("unrelated unlock disturbed the selection")
	}
	// Unlock of a still-selected seat keeps it selected and provisional.
	s.Apply(model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "A1"})
	s.Apply(model.SeatEvent{Kind: model.EventSeatUnlocked, SeatID: "A1"})
	if got := s.Status("A1"); got != model.StatusAvailable {
		t.Fatalf("status = %s, want available", got)
	}
}

func TestBookedIsTerminal(t *testing.T) {
	s := newSeeded()
	s.Apply(model.SeatEvent{Kind: model.EventSeatBooked, SeatID: "A1"})
	s.Apply(model.SeatEvent{Kind: model.EventSeatUnlocked, SeatID: "A1"})
	if got := s.Status("A1"); got != model.StatusBooked {
		t.Fatalf("unlock reverted booked seat to %s", got)
	}
	s.Apply(model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "A1"})
	if got := s.Status("A1"); got != model.StatusBooked {
		t.Fatalf("lock reverted booked seat to %s", got)
	}
	if s.Select("A1") {
		t.Fatal("booked seat became selectable")
	}
}

func TestBookedInvalidatesSession(t *testing.T) {
	s := newSeeded()
	s.Select("A1")
	s.Select("A2")
	s.MarkSession([]string{"A1", "A2"})
	res := s.Apply(model.SeatEvent{Kind: model.EventSeatBooked, SeatID: "A1"})
	if !res.SessionInvalidated {
		t.Fatal("booked session seat did not flag session invalidation")
	}
	if s.Selected("A1") {
		t.Fatal("booked seat still selected")
	}
	// Second delivery is idempotent and silent.
	res = s.Apply(model.SeatEvent{Kind: model.EventSeatBooked, SeatID: "A1"})
	if res.SessionInvalidated || res.Changed {
		t.Fatalf("duplicate booked reported side effects: %+v", res)
	}
}

func TestDeselectBlockedBySession(t *testing.T) {
	s := newSeeded()
	s.Select("A1")
	s.MarkSession([]string{"A1"})
	s.Deselect("A1")
	if !s.Selected("A1") {
		t.Fatal("session seat was deselected")
	}
	s.ClearSession()
	s.Deselect("A1")
	if s.Selected("A1") {
		t.Fatal("deselect after session clear failed")
	}
}

func TestBlockedSeatsIgnoreLockTraffic(t *testing.T) {
	s := newSeeded()
	s.Apply(model.SeatEvent{Kind: model.EventSeatLocked, SeatID: "D1"})
	if got := s.Status("D1"); got != model.StatusBlocked {
		t.Fatalf("blocked seat moved to %s on lock event", got)
	}
	s.Apply(model.SeatEvent{Kind: model.EventSeatUnlocked, SeatID: "D1"})
	if got := s.Status("D1"); got != model.StatusBlocked {
		t.Fatalf("blocked seat moved to %s on unlock event", got)
	}
	// Booked applies unconditionally, even to blocked seats.
	s.Apply(model.SeatEvent{Kind: model.EventSeatBooked, SeatID: "D1"})
	if got := s.Status("D1"); got != model.StatusBooked {
		t.Fatalf("blocked seat did not accept booked, got %s", got)
	}
}

func TestSubscribeNotifiesAndCancels(t *testing.T) {
	s := newSeeded()
	calls := 0
	cancel := s.Subscribe(func() { calls++ })
	s.Select("A1")
	if calls != 1 {
		t.Fatalf("calls = %d after select, want 1", calls)
	}
	// Rejected select is a no-op and must not notify.
	s.Select("B3")
	if calls != 1 {
		t.Fatalf("calls = %d after rejected select, want 1", calls)
	}
	cancel()
	s.Deselect("A1")
	if calls != 1 {
		t.Fatalf("calls = %d after cancel, want 1", calls)
	}
}

// Property check: whatever order remote events and local actions arrive
// in, every seat stays in exactly one canonical status, repeated events
// change nothing, and booked seats never come back.
func TestPartitionInvariantUnderRandomSequences(t *testing.T) {
	seats := []string{"A1", "A2", "A3", "B1", "B2", "B3", "D1"}
	kinds := []model.EventKind{model.EventSeatLocked, model.EventSeatUnlocked, model.EventSeatBooked}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		s := newSeeded()
		booked := map[string]bool{"B3": true}
		for i := 0; i < 200; i++ {
			seat := seats[rng.Intn(len(seats))]
			switch rng.Intn(4) {
			case 0:
				s.Select(seat)
			case 1:
				s.Deselect(seat)
			default:
				ev := model.SeatEvent{Kind: kinds[rng.Intn(len(kinds))], SeatID: seat}
				before := s.Status(seat)
				s.Apply(ev)
				after := s.Status(seat)
				if ev.Kind == model.EventSeatBooked {
					booked[seat] = true
				}
				if booked[seat] && after != model.StatusBooked {
					t.Fatalf("run %d step %d: booked seat %s regressed from %s to %s", run, i, seat, before, after)
				}
				// Idempotence: replaying the event must not change state.
				res := s.Apply(ev)
				if res.Changed {
					t.Fatalf("run %d step %d: replay of %s/%s changed state", run, i, ev.Kind, seat)
				}
				if !s.Status(seat).Valid() {
					t.Fatalf("run %d step %d: seat %s has invalid status %q", run, i, seat, s.Status(seat))
				}
			}
		}
		// Selected seats must be available or locked (never booked/blocked).
		for _, id := range s.Selection() {
			if st := s.Status(id); st == model.StatusBooked || st == model.StatusBlocked {
				t.Fatalf("run %d: selected seat %s ended as %s", run, id, st)
			}
		}
	}
}

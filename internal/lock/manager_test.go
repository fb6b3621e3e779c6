package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"

	"github.com/farebound/tripseats/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAPI scripts the reservation server.  AcquireLock optionally parks
// on a gate channel so tests can interleave completions with state
// transitions.
type fakeAPI struct {
	mu         sync.Mutex
	grant      model.LockGrant
	acquireErr error
	gate       chan struct{}
	acquires   int
	releases   []string
}

func (f *fakeAPI) AcquireLock(ctx context.Context, slotID string, seatIDs []string) (model.LockGrant, error) {
	f.mu.Lock()
	f.acquires++
	gate := f.gate
	grant, err := f.grant, f.acquireErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return grant, err
}

func (f *fakeAPI) ReleaseLock(ctx context.Context, token string) (bool, error) {
	f.mu.Lock()
	f.releases = append(f.releases, token)
	f.mu.Unlock()
	return true, nil
}

func (f *fakeAPI) releaseCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.releases...)
}

// waitFor polls cond with a real-time deadline; the mock clock only
// drives the countdown, not the test itself.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newActive(t *testing.T, mock *clock.Mock, api *fakeAPI) *Manager {
	t.Helper()
	api.mu.Lock()
	if api.grant.Token == "" {
		api.grant = model.LockGrant{Token: "tok1", ExpiresIn: 300 * time.Second}
	}
	api.mu.Unlock()
	m := New(mock, api, "slot-1")
	if err := m.RequestLock(context.Background(), []string{"A1", "A2"}); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}
	waitFor(t, func() bool { return m.Snapshot().State == StateActive })
	return m
}

func TestAcquireMovesToActive(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	snap := m.Snapshot()
	if snap.Token != "tok1" {
		t.Fatalf("token = %q, want tok1", snap.Token)
	}
	if snap.Remaining != 300*time.Second {
		t.Fatalf("remaining = %s, want 300s", snap.Remaining)
	}
	if len(snap.SeatIDs) != 2 {
		t.Fatalf("seat ids = %v", snap.SeatIDs)
	}
	m.Release()
}

func TestRemainingComputedFromDeadline(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	// Jump the clock 100s in one step, as a resumed laptop would: the
	// remaining time must reflect the true deadline, not elapsed ticks.
	mock.Add(100 * time.Second)
	if got := m.Remaining(); got != 200*time.Second {
		t.Fatalf("remaining = %s, want 200s", got)
	}
	m.Release()
}

func TestExpiryReleasesExactlyOnce(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	mock.Add(300 * time.Second)
	waitFor(t, func() bool { return m.Snapshot().State == StateIdle })
	waitFor(t, func() bool { return len(api.releaseCalls()) == 1 })

	if snap := m.Snapshot(); snap.EndReason != EndExpired {
		t.Fatalf("end reason = %s, want expired", snap.EndReason)
	}
	// Nothing further may fire after the session ended.
	mock.Add(600 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if calls := api.releaseCalls(); len(calls) != 1 || calls[0] != "tok1" {
		t.Fatalf("release calls = %v, want exactly [tok1]", calls)
	}
}

func TestSecondRequestRejected(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	if err := m.RequestLock(context.Background(), []string{"B1"}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
	api.mu.Lock()
	n := api.acquires
	api.mu.Unlock()
	if n != 1 {
		t.Fatalf("acquire calls = %d, want 1", n)
	}
	m.Release()
}

func TestAcquireFailureReturnsToIdle(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{acquireErr: errors.New("seats unavailable")}
	m := New(mock, api, "slot-1")

	if err := m.RequestLock(context.Background(), []string{"A1"}); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}
	waitFor(t, func() bool { return m.Snapshot().State == StateIdle && m.Snapshot().EndReason == EndFailed })
	if snap := m.Snapshot(); snap.Err == nil {
		t.Fatal("failure detail not surfaced")
	}
	// The same call is valid again after the failure.
	if err := m.RequestLock(context.Background(), []string{"A1"}); err != nil {
		t.Fatalf("RequestLock after failure: %v", err)
	}
	waitFor(t, func() bool { return m.Snapshot().State == StateIdle })
}

func TestAbandonedAcquireIsDiscardedAndReleased(t *testing.T) {
	mock := clock.NewMock()
	gate := make(chan struct{})
	api := &fakeAPI{
		grant: model.LockGrant{Token: "stale-tok", ExpiresIn: 300 * time.Second},
		gate:  gate,
	}
	m := New(mock, api, "slot-1")

	if err := m.RequestLock(context.Background(), []string{"A1"}); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}
	waitFor(t, func() bool { return m.Snapshot().State == StateRequesting })

	// The user walks away while the call is still in flight.
	m.Release()
	if snap := m.Snapshot(); snap.State != StateIdle {
		t.Fatalf("state = %s, want idle", snap.State)
	}

	// The grant lands afterwards: it must not resurrect a session, and
	// the now-unwanted hold is given back immediately.
	close(gate)
	waitFor(t, func() bool { return len(api.releaseCalls()) == 1 })
	if snap := m.Snapshot(); snap.State != StateIdle || snap.Token != "" {
		t.Fatalf("stale grant leaked into state: %+v", snap)
	}
	if calls := api.releaseCalls(); calls[0] != "stale-tok" {
		t.Fatalf("released %q, want stale-tok", calls[0])
	}
}

func TestReleaseFromActive(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	m.Release()
	if snap := m.Snapshot(); snap.State != StateIdle || snap.EndReason != EndReleased {
		t.Fatalf("snapshot after release: %+v", snap)
	}
	waitFor(t, func() bool { return len(api.releaseCalls()) == 1 })

	// The expiry timer was cancelled with the session.
	mock.Add(400 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if calls := api.releaseCalls(); len(calls) != 1 {
		t.Fatalf("release calls = %v, want exactly one", calls)
	}
}

func TestForceInvalidateSkipsUnlock(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	m.ForceInvalidate("A2")
	snap := m.Snapshot()
	if snap.State != StateIdle || snap.EndReason != EndBookedElsewhere {
		t.Fatalf("snapshot after invalidate: %+v", snap)
	}
	time.Sleep(10 * time.Millisecond)
	if calls := api.releaseCalls(); len(calls) != 0 {
		t.Fatalf("unexpected unlock calls %v: nothing to unlock after a booking", calls)
	}
	// Seats outside the session never invalidate it.
	m2 := newActive(t, clock.NewMock(), &fakeAPI{})
	m2.ForceInvalidate("Z9")
	if m2.Snapshot().State != StateActive {
		t.Fatal("unrelated seat invalidated the session")
	}
	m2.Release()
}

func TestCompleteEndsWithoutUnlock(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := newActive(t, mock, api)

	m.Complete()
	if snap := m.Snapshot(); snap.State != StateIdle || snap.EndReason != EndBooked {
		t.Fatalf("snapshot after complete: %+v", snap)
	}
	time.Sleep(10 * time.Millisecond)
	if calls := api.releaseCalls(); len(calls) != 0 {
		t.Fatalf("release calls = %v, want none after booking", calls)
	}
}

func TestCountdownNotifies(t *testing.T) {
	mock := clock.NewMock()
	api := &fakeAPI{}
	m := New(mock, api, "slot-1")
	api.mu.Lock()
	api.grant = model.LockGrant{Token: "tok1", ExpiresIn: 300 * time.Second}
	api.mu.Unlock()

	var mu sync.Mutex
	ticks := 0
	m.SetOnChange(func(s Snapshot) {
		mu.Lock()
		if s.State == StateActive {
			ticks++
		}
		mu.Unlock()
	})
	if err := m.RequestLock(context.Background(), []string{"A1"}); err != nil {
		t.Fatalf("RequestLock: %v", err)
	}
	waitFor(t, func() bool { return m.Snapshot().State == StateActive })

	for i := 0; i < 5; i++ {
		mock.Add(time.Second)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3 // activation plus ticker fires
	})
	m.Release()
}

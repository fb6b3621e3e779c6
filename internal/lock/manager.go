// Package lock owns the lifecycle of the client's reservation lock:
// acquire, hold with a countdown, and guaranteed single release by
// whichever path ends the hold first (user release, expiry, booking, or
// invalidation by a booking made elsewhere).
package lock

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/farebound/tripseats/internal/model"
)

// State is the manager's position in its lifecycle.
type State int

const (
	StateIdle       State = iota // no session
	StateRequesting              // acquire call in flight
	StateActive                  // confirmed hold, countdown running
)

// String returns the lowercase state name for logs and snapshots.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// EndReason explains why the most recent session ended.
type EndReason int

const (
	EndNone            EndReason = iota
	EndReleased                  // explicit user release
	EndExpired                   // countdown reached the deadline
	EndBooked                    // booking completed through this client
	EndBookedElsewhere           // a session seat was booked through another channel
	EndFailed                    // acquire call failed
)

// String returns the lowercase reason name.
func (r EndReason) String() string {
	switch r {
	case EndReleased:
		return "released"
	case EndExpired:
		return "expired"
	case EndBooked:
		return "booked"
	case EndBookedElsewhere:
		return "booked_elsewhere"
	case EndFailed:
		return "failed"
	}
	return "none"
}

// ErrSessionActive is returned when RequestLock is called while a
// session is already requesting or active.  That is a caller contract
// violation, so it is reported loudly and the call is a no-op.
var ErrSessionActive = errors.New("lock session already in progress")

// API is the slice of the reservation server this manager needs.
// *api.Client satisfies it.
type API interface {
	AcquireLock(ctx context.Context, slotID string, seatIDs []string) (model.LockGrant, error)
	ReleaseLock(ctx context.Context, token string) (bool, error)
}

// Snapshot is an immutable view of the manager handed to subscribers.
type Snapshot struct {
	State     State
	Token     string
	SeatIDs   []string
	Remaining time.Duration
	EndReason EndReason // why the previous session ended, EndNone while one runs
	Err       error     // acquire failure detail, nil otherwise
}

// Manager drives the lock session state machine.  All transitions are
// serialized by an internal mutex; network calls run on their own
// goroutines and re-enter through generation-checked completions, so a
// completion for an abandoned request can never disturb a newer session.
type Manager struct {
	clk    clock.Clock
	api    API
	slotID string

	mu        sync.Mutex
	state     State
	gen       uint64 // bumped whenever outstanding async work becomes stale
	session   *model.LockSession
	stopTick  chan struct{}
	expiry    *clock.Timer
	endReason EndReason
	lastErr   error

	onChange func(Snapshot)
}

// New returns an idle manager for one slot.  clk is injectable so tests
// can drive the countdown with a mock clock.
func New(clk clock.Clock, apiClient API, slotID string) *Manager {
	return &Manager{clk: clk, api: apiClient, slotID: slotID, state: StateIdle}
}

// SetOnChange installs the single change callback.  Must be called
// before the manager is used; the callback runs off the manager's lock
// and must not block for long.
func (m *Manager) SetOnChange(fn func(Snapshot)) { m.onChange = fn }

// Snapshot returns the current state view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Remaining returns the time left on the active session, zero otherwise.
// It is recomputed from the absolute deadline on every call, so a
// suspended process resumes with the true remaining time.
func (m *Manager) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remainingLocked()
}

// RequestLock starts acquiring a hold on the given seats.  The call
// returns immediately; the outcome arrives through the change callback.
// Calling it while a session is requesting or active violates the
// contract and returns ErrSessionActive without side effects.
func (m *Manager) RequestLock(ctx context.Context, seatIDs []string) error {
	if len(seatIDs) == 0 {
		return errors.New("no seats selected")
	}
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		log.Printf("lock: RequestLock called in state %s; rejecting", m.state)
		return ErrSessionActive
	}
	m.state = StateRequesting
	m.gen++
	g := m.gen
	m.endReason = EndNone
	m.lastErr = nil
	ids := append([]string(nil), seatIDs...)
	m.session = &model.LockSession{SeatIDs: ids}
	m.mu.Unlock()
	m.notify()

	go func() {
		grant, err := m.api.AcquireLock(ctx, m.slotID, ids)
		m.completeAcquire(g, grant, err)
	}()
	return nil
}

// completeAcquire applies the result of an acquire round trip, unless
// the session generation has moved on since the request was issued.
func (m *Manager) completeAcquire(g uint64, grant model.LockGrant, err error) {
	m.mu.Lock()
	if m.gen != g || m.state != StateRequesting {
		m.mu.Unlock()
		if err == nil {
			// The user moved on before the grant landed.  Give the hold
			// back right away instead of waiting out the server TTL.
			log.Printf("lock: discarding stale grant %q, releasing", grant.Token)
			go m.bestEffortRelease(grant.Token)
		}
		return
	}
	if err != nil {
		m.state = StateIdle
		m.session = nil
		m.gen++
		m.endReason = EndFailed
		m.lastErr = err
		m.mu.Unlock()
		log.Printf("lock: acquire failed: %v", err)
		m.notify()
		return
	}

	m.state = StateActive
	m.session.Token = grant.Token
	m.session.ExpiresAt = m.clk.Now().Add(grant.ExpiresIn)
	m.stopTick = make(chan struct{})
	m.expiry = m.clk.AfterFunc(grant.ExpiresIn, func() { m.expire(g) })
	go m.runCountdown(g, m.stopTick)
	m.mu.Unlock()
	m.notify()
}

// Release ends the session by user intent.  In Requesting it abandons
// the in-flight acquire; in Active it stops the countdown and calls the
// remote unlock best-effort.  Idle calls are no-ops.
func (m *Manager) Release() {
	m.mu.Lock()
	switch m.state {
	case StateRequesting:
		// Abandon: bump the generation so the eventual completion is
		// discarded (and its grant, if any, released).
		m.gen++
		m.state = StateIdle
		m.session = nil
		m.endReason = EndReleased
		m.mu.Unlock()
		m.notify()
	case StateActive:
		token := m.session.Token
		m.endSessionLocked(EndReleased)
		m.mu.Unlock()
		m.notify()
		go m.bestEffortRelease(token)
	default:
		m.mu.Unlock()
	}
}

// Complete ends the session after a successful booking.  The seats are
// now owned, so no unlock call is made; their status flips to booked
// via the push channel.
func (m *Manager) Complete() {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return
	}
	m.endSessionLocked(EndBooked)
	m.mu.Unlock()
	m.notify()
}

// ForceInvalidate ends the session because seatID, held by this
// session, was booked through another channel.  There is nothing left
// to unlock, so the remote release is skipped.
func (m *Manager) ForceInvalidate(seatID string) {
	m.mu.Lock()
	if m.state != StateActive || !m.session.Contains(seatID) {
		m.mu.Unlock()
		return
	}
	m.endSessionLocked(EndBookedElsewhere)
	m.mu.Unlock()
	log.Printf("lock: seat %s booked elsewhere, session invalidated", seatID)
	m.notify()
}

// expire fires when the countdown reaches the deadline.  The session
// ends unconditionally; the unlock is best-effort because the server's
// own TTL releases the seats regardless.
func (m *Manager) expire(g uint64) {
	m.mu.Lock()
	if m.gen != g || m.state != StateActive {
		m.mu.Unlock()
		return
	}
	token := m.session.Token
	m.endSessionLocked(EndExpired)
	m.mu.Unlock()
	log.Printf("lock: session %q expired", token)
	m.notify()
	m.bestEffortRelease(token)
}

// endSessionLocked tears the active session down exactly once: the
// expiry timer and countdown stop, the generation advances, and the
// manager returns to Idle.  Callers hold m.mu and notify afterwards.
func (m *Manager) endSessionLocked(reason EndReason) {
	if m.expiry != nil {
		m.expiry.Stop()
		m.expiry = nil
	}
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
	m.gen++
	m.state = StateIdle
	m.session = nil
	m.endReason = reason
}

// runCountdown emits a change notification every second while the
// session is active so the UI can re-render the remaining time.  The
// remaining value itself is always recomputed from the deadline.
func (m *Manager) runCountdown(g uint64, stop <-chan struct{}) {
	t := m.clk.Ticker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			m.mu.Lock()
			live := m.gen == g && m.state == StateActive
			m.mu.Unlock()
			if !live {
				return
			}
			m.notify()
		}
	}
}

// bestEffortRelease calls the remote unlock once and only logs failures;
// the server TTL is the backstop (retrying could thrash a dead server).
func (m *Manager) bestEffortRelease(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	released, err := m.api.ReleaseLock(ctx, token)
	if err != nil {
		log.Printf("lock: release %q failed: %v", token, err)
		return
	}
	if !released {
		log.Printf("lock: release %q reported not released (already expired?)", token)
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:     m.state,
		Remaining: m.remainingLocked(),
		EndReason: m.endReason,
		Err:       m.lastErr,
	}
	if m.session != nil {
		snap.Token = m.session.Token
		snap.SeatIDs = append([]string(nil), m.session.SeatIDs...)
	}
	return snap
}

func (m *Manager) remainingLocked() time.Duration {
	if m.state != StateActive || m.session == nil {
		return 0
	}
	if d := m.session.ExpiresAt.Sub(m.clk.Now()); d > 0 {
		return d
	}
	return 0
}

func (m *Manager) notify() {
	if m.onChange == nil {
		return
	}
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.onChange(snap)
}

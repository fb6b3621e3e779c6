// Package booking is the surface the presentation layer talks to.  It
// wires the seat store, the lock session manager and the realtime sync
// client together: remote events flow into the store, store verdicts
// (a session seat booked elsewhere) flow into the lock manager, and
// every state change fans out to subscribers.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/farebound/tripseats/internal/api"
	"github.com/farebound/tripseats/internal/lock"
	"github.com/farebound/tripseats/internal/model"
	"github.com/farebound/tripseats/internal/realtime"
	"github.com/farebound/tripseats/internal/store"
)

// API is everything the facade needs from the reservation server.
// *api.Client satisfies it; tests substitute a fake.
type API interface {
	lock.API
	Guest(ctx context.Context) error
	SeatMap(ctx context.Context, slotID string) (model.SeatMap, error)
	Book(ctx context.Context, token string, seatIDs []string) (string, error)
}

// Reason tags an Update with what changed, so a renderer can redraw
// only the affected region if it wants to.
type Reason string

const (
	ReasonSeats      Reason = "seats"      // seat status or selection changed
	ReasonLock       Reason = "lock"       // lock session state or countdown tick
	ReasonConnection Reason = "connection" // push connection state changed
)

// Update is delivered to subscribers on every state change.
type Update struct {
	Reason Reason
	Lock   lock.Snapshot
	Conn   realtime.Snapshot
}

// Options configures a Client.  Exactly one push transport is used: an
// explicit Transport (tests), the websocket URL, the AMQP URL, or, when
// none is configured, the synthetic generator seeded from the loaded
// seat map.
type Options struct {
	BaseURL   string
	Slot      string
	WSURL     string // full per-slot events URL, e.g. ws://host/v1/slots/s1/events
	AMQPURL   string
	Clock     clock.Clock         // nil means wall clock
	API       API                 // nil means HTTP client against BaseURL
	Transport realtime.Transport  // nil means derive from WSURL/AMQPURL/sim
}

// Client is the booking subsystem facade.
type Client struct {
	api    API
	clk    clock.Clock
	slotID string

	store *store.Store
	locks *lock.Manager
	sync  *realtime.Client

	transport realtime.Transport // nil until Start when simulating

	mu      sync.Mutex
	seats   []model.Seat // layout captured at Start, for renderers
	subs    map[int]func(Update)
	nextSub int
	started bool
	booking bool // a Book call of our own is in flight
	wsURL   string
	amqpURL string
}

// New assembles the subsystem; nothing connects until Start.
func New(opts Options) *Client {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	a := opts.API
	if a == nil {
		a = api.New(opts.BaseURL)
	}
	c := &Client{
		api:       a,
		clk:       clk,
		slotID:    opts.Slot,
		store:     store.New(),
		locks:     lock.New(clk, a, opts.Slot),
		transport: opts.Transport,
		subs:      make(map[int]func(Update)),
		wsURL:     opts.WSURL,
		amqpURL:   opts.AMQPURL,
	}
	c.store.Subscribe(func() { c.publish(ReasonSeats) })
	c.locks.SetOnChange(func(s lock.Snapshot) { c.onLockChange(s) })
	return c
}

// Start authenticates, loads the seat map into the store and brings the
// push connection up.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("booking client already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.api.Guest(ctx); err != nil {
		c.abortStart()
		return fmt.Errorf("start: %w", err)
	}
	seatMap, err := c.api.SeatMap(ctx, c.slotID)
	if err != nil {
		c.abortStart()
		return fmt.Errorf("start: %w", err)
	}
	c.store.Load(seatMap)
	c.mu.Lock()
	c.seats = seatMap.Seats
	c.mu.Unlock()

	transport := c.transport
	if transport == nil {
		switch {
		case c.wsURL != "":
			transport = &realtime.WebsocketTransport{URL: c.wsURL}
		case c.amqpURL != "":
			transport = &realtime.AMQPTransport{URL: c.amqpURL, SlotID: c.slotID}
		default:
			// No push channel configured: run the reconciliation path
			// against synthetic events (offline development).
			ids := make([]string, 0, len(seatMap.Seats))
			for _, s := range seatMap.Seats {
				ids = append(ids, s.ID)
			}
			if len(ids) == 0 {
				ids = seatMap.Available
			}
			transport = &realtime.SimTransport{Clock: c.clk, SeatIDs: ids}
		}
	}
	c.sync = realtime.New(c.clk, transport, c.applyRemote)
	c.sync.SetOnState(func(realtime.Snapshot) { c.publish(ReasonConnection) })
	c.sync.Start()
	return nil
}

// abortStart clears the started flag after a failed startup step so the
// same client can be started again once the server is reachable.
func (c *Client) abortStart() {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
}

// Close releases any active lock and tears the push connection down.
func (c *Client) Close() {
	c.locks.Release()
	if c.sync != nil {
		c.sync.Disconnect()
	}
}

// applyRemote is the sync client's sink: store first, then route a
// booked-session-seat verdict to the lock manager.  When our own Book
// call is in flight the event is its confirmation racing the HTTP
// response, not a booking made elsewhere, and the session completes.
func (c *Client) applyRemote(ev model.SeatEvent) {
	res := c.store.Apply(ev)
	if res.SessionInvalidated {
		c.mu.Lock()
		own := c.booking
		c.mu.Unlock()
		if own {
			c.locks.Complete()
		} else {
			c.locks.ForceInvalidate(ev.SeatID)
		}
	}
}

// onLockChange keeps the store's session marks in step with the lock
// lifecycle and republishes the snapshot.
func (c *Client) onLockChange(s lock.Snapshot) {
	if s.State == lock.StateIdle {
		c.store.ClearSession()
	}
	c.publish(ReasonLock)
}

// Select adds a seat to the local selection; false means the seat was
// already taken (the normal losing-a-race outcome).
func (c *Client) Select(seatID string) bool { return c.store.Select(seatID) }

// Deselect removes a seat from the selection unless the active lock
// session holds it.
func (c *Client) Deselect(seatID string) { c.store.Deselect(seatID) }

// Seats returns the slot layout loaded at Start, in row-major order.
func (c *Client) Seats() []model.Seat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seats
}

// Status returns the canonical status of one seat.
func (c *Client) Status(seatID string) model.Status { return c.store.Status(seatID) }

// Selected reports whether the seat is in the local selection.
func (c *Client) Selected(seatID string) bool { return c.store.Selected(seatID) }

// Selection returns the selected seat ids in pick order.
func (c *Client) Selection() []string { return c.store.Selection() }

// RequestLock asks the server to hold the currently selected seats.
// The outcome arrives through the subscription; the error return only
// covers contract violations and an empty selection.
func (c *Client) RequestLock(ctx context.Context) error {
	seats := c.store.Selection()
	if len(seats) == 0 {
		return errors.New("nothing selected")
	}
	if c.locks.Snapshot().State != lock.StateIdle {
		return lock.ErrSessionActive
	}
	// Marks must be in place before the call goes out, so a confirming
	// seat_locked that races the HTTP response is not read as a lost race.
	c.store.MarkSession(seats)
	if err := c.locks.RequestLock(ctx, seats); err != nil {
		c.store.ClearSession()
		return err
	}
	return nil
}

// Release gives the lock back (or abandons an in-flight request).
func (c *Client) Release() { c.locks.Release() }

// Book converts the active hold into a permanent booking.  The booking
// flag covers the round trip because the server broadcasts seat_booked
// before it answers; applyRemote must not read that event as a booking
// made elsewhere.
func (c *Client) Book(ctx context.Context) (string, error) {
	snap := c.locks.Snapshot()
	if snap.State != lock.StateActive {
		return "", errors.New("no active lock session")
	}
	c.mu.Lock()
	c.booking = true
	c.mu.Unlock()
	bookingID, err := c.api.Book(ctx, snap.Token, snap.SeatIDs)
	if err != nil {
		c.mu.Lock()
		c.booking = false
		c.mu.Unlock()
		return "", err
	}
	c.locks.Complete()
	c.mu.Lock()
	c.booking = false
	c.mu.Unlock()
	return bookingID, nil
}

// LockState returns the current lock session snapshot.
func (c *Client) LockState() lock.Snapshot { return c.locks.Snapshot() }

// ConnState returns the current push connection snapshot.
func (c *Client) ConnState() realtime.Snapshot {
	if c.sync == nil {
		return realtime.Snapshot{}
	}
	return c.sync.Snapshot()
}

// Reconnect manually restarts the push connection after terminal
// connectivity loss.
func (c *Client) Reconnect() {
	if c.sync != nil {
		c.sync.Reconnect()
	}
}

// Subscribe registers fn for every state change and returns its cancel
// function.  Callbacks run synchronously on mutating goroutines.
func (c *Client) Subscribe(fn func(Update)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Client) publish(reason Reason) {
	upd := Update{Reason: reason, Lock: c.locks.Snapshot(), Conn: c.ConnState()}
	c.mu.Lock()
	fns := make([]func(Update), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(upd)
	}
}

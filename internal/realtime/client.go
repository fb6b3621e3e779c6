package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/farebound/tripseats/internal/model"
)

// ConnState is the connection position of the sync client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// maxRetries bounds automatic reconnection; past it the client goes
// terminal and waits for a manual Reconnect.
const maxRetries = 5

// baseDelay is the first reconnect delay; it doubles per attempt
// (1s, 2s, 4s, 8s, 16s).
const baseDelay = time.Second

// Snapshot is the connection view handed to the state callback.
// Terminal means the retry budget is spent and only a manual
// Reconnect restarts the client: the store may be stale ("out of
// sync") until then.
type Snapshot struct {
	State    ConnState
	Attempts int
	Terminal bool
}

// Client maintains the push connection and forwards inbound events, in
// arrival order, to the sink.  Each connection belongs to a generation;
// goroutines from torn-down connections find their generation stale and
// exit without touching newer state.
type Client struct {
	clk       clock.Clock
	transport Transport
	sink      func(model.SeatEvent)

	mu       sync.Mutex
	state    ConnState
	attempts int
	terminal bool
	closed   bool
	gen      uint64
	conn     Conn
	retry    *clock.Timer
	cancel   context.CancelFunc

	onState func(Snapshot)
}

// New returns a client that is not yet connected; call Start.
// The sink runs on the read-loop goroutine and must not block.
func New(clk clock.Clock, transport Transport, sink func(model.SeatEvent)) *Client {
	return &Client{clk: clk, transport: transport, sink: sink}
}

// SetOnState installs the connection-state callback.  Set it before
// Start.
func (c *Client) SetOnState(fn func(Snapshot)) { c.onState = fn }

// Snapshot returns the current connection view.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Attempts: c.attempts, Terminal: c.terminal}
}

// Start begins connecting immediately.
func (c *Client) Start() {
	c.mu.Lock()
	c.closed = false
	c.connectLocked()
	c.mu.Unlock()
	c.notify()
}

// Reconnect resets the retry budget and dials again.  It is the manual
// escape hatch from the terminal disconnected state.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.closed = false
	c.terminal = false
	c.attempts = 0
	c.stopRetryLocked()
	c.closeConnLocked()
	c.connectLocked()
	c.mu.Unlock()
	c.notify()
}

// Disconnect stops the client: it cancels any pending retry, closes the
// live connection and suppresses all automatic redialing.  It is
// idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++ // orphan any in-flight dial or read loop
	c.stopRetryLocked()
	c.closeConnLocked()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.notify()
}

// connectLocked starts a new connection epoch; callers hold c.mu.
func (c *Client) connectLocked() {
	c.gen++
	g := c.gen
	c.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.dial(ctx, g)
}

func (c *Client) dial(ctx context.Context, g uint64) {
	conn, err := c.transport.Dial(ctx)

	c.mu.Lock()
	if c.closed || c.gen != g {
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close() // connection nobody wants anymore
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		log.Printf("sync: connect failed: %v", err)
		c.handleDisconnect(g)
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0 // a good connection restores the full retry budget
	c.mu.Unlock()
	c.notify()
	go c.readLoop(conn, g)
}

// readLoop forwards events in arrival order until the connection dies.
func (c *Client) readLoop(conn Conn, g uint64) {
	for {
		ev, err := conn.Receive()
		if err != nil {
			c.mu.Lock()
			stale := c.closed || c.gen != g
			c.mu.Unlock()
			if !stale {
				log.Printf("sync: connection lost: %v", err)
			}
			c.handleDisconnect(g)
			return
		}
		c.mu.Lock()
		stale := c.closed || c.gen != g
		c.mu.Unlock()
		if stale {
			return
		}
		c.sink(ev)
	}
}

// handleDisconnect schedules the next reconnect attempt, or goes
// terminal once the budget is spent.  Stale generations are ignored so
// a dead read loop cannot race a newer connection.
func (c *Client) handleDisconnect(g uint64) {
	c.mu.Lock()
	if c.closed || c.gen != g {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.closeConnLocked()
	c.state = StateDisconnected

	if c.attempts >= maxRetries {
		c.terminal = true
		c.mu.Unlock()
		log.Printf("sync: retry budget exhausted after %d attempts; waiting for manual reconnect", maxRetries)
		c.notify()
		return
	}
	delay := baseDelay << c.attempts
	c.attempts++
	attempt := c.attempts
	c.retry = c.clk.AfterFunc(delay, c.retryNow)
	c.mu.Unlock()
	log.Printf("sync: reconnect attempt %d/%d in %s", attempt, maxRetries, delay)
	c.notify()
}

// retryNow runs when the backoff timer fires.
func (c *Client) retryNow() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.connectLocked()
	c.mu.Unlock()
	c.notify()
}

// stopRetryLocked cancels a pending backoff timer; callers hold c.mu.
func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// closeConnLocked closes the live connection, if any; callers hold c.mu.
func (c *Client) closeConnLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) notify() {
	if c.onState == nil {
		return
	}
	c.onState(c.Snapshot())
}

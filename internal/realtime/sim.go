package realtime

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/farebound/tripseats/internal/model"
)

// SimTransport generates synthetic seat events so the reconciliation
// path can be exercised with no live push channel configured (offline
// development).  It is a simulation seam, not a production transport.
type SimTransport struct {
	Clock    clock.Clock
	SeatIDs  []string
	Interval time.Duration // default 10s
}

// Dial returns a connection that emits one random event per interval.
func (t *SimTransport) Dial(ctx context.Context) (Conn, error) {
	if len(t.SeatIDs) == 0 {
		return nil, errors.New("sim transport: no seat ids configured")
	}
	clk := t.Clock
	if clk == nil {
		clk = clock.New()
	}
	interval := t.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &simConn{
		clk:      clk,
		seats:    t.SeatIDs,
		interval: interval,
		rng:      rand.New(rand.NewSource(clk.Now().UnixNano())),
		done:     make(chan struct{}),
	}, nil
}

type simConn struct {
	clk      clock.Clock
	seats    []string
	interval time.Duration
	rng      *rand.Rand
	done     chan struct{}
}

var simKinds = []model.EventKind{
	model.EventSeatLocked,
	model.EventSeatUnlocked,
	model.EventSeatBooked,
}

func (c *simConn) Receive() (model.SeatEvent, error) {
	t := c.clk.Timer(c.interval)
	defer t.Stop()
	select {
	case <-c.done:
		return model.SeatEvent{}, errors.New("sim connection closed")
	case now := <-t.C:
		return model.SeatEvent{
			Kind:      simKinds[c.rng.Intn(len(simKinds))],
			SeatID:    c.seats[c.rng.Intn(len(c.seats))],
			Timestamp: now,
		}, nil
	}
}

func (c *simConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

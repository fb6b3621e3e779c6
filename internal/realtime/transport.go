// Package realtime keeps the seat store eventually consistent with the
// server.  A Client owns one push connection, replays inbound events to
// a sink in arrival order, and survives transient disconnects with
// bounded exponential backoff.
package realtime

import (
	"context"

	"github.com/farebound/tripseats/internal/model"
)

// Transport dials one push connection.  Implementations in this package
// cover websocket (production), AMQP (broker deployments) and a
// synthetic generator (offline development); tests supply their own.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is a live push connection.  Receive blocks until the next event
// or a connection failure; after an error the Conn is dead and the
// client redials.  Close unblocks a pending Receive.
type Conn interface {
	Receive() (model.SeatEvent, error)
	Close() error
}

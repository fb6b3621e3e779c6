package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names a remote seat mutation delivered over the push channel.
type EventKind string

const (
	EventSeatLocked   EventKind = "seat_locked"
	EventSeatUnlocked EventKind = "seat_unlocked"
	EventSeatBooked   EventKind = "seat_booked"
)

// Valid reports whether k is a known event kind.  Unknown kinds are
// dropped by the sync client rather than applied to the store.
func (k EventKind) Valid() bool {
	switch k {
	case EventSeatLocked, EventSeatUnlocked, EventSeatBooked:
		return true
	}
	return false
}

// SeatEvent is a remote mutation for a single seat.  Events may arrive
// out of order relative to local actions and may be delivered more than
// once; the store applies them idempotently.
type SeatEvent struct {
	Kind      EventKind
	SeatID    string
	ByUser    string // optional: who caused the mutation, empty if unknown
	Timestamp time.Time
}

// wireEvent is the JSON shape used on the push channel.
type wireEvent struct {
	Event  string `json:"event"`
	SeatID string `json:"seat_id"`
	ByUser string `json:"by_user,omitempty"`
}

// MarshalJSON encodes the event in the push-channel wire format.
func (e SeatEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{Event: string(e.Kind), SeatID: e.SeatID, ByUser: e.ByUser})
}

// DecodeSeatEvent parses a push-channel message.  It returns an error
// for malformed JSON or an unknown event kind so the caller can log and
// skip the message without tearing the connection down.
func DecodeSeatEvent(data []byte) (SeatEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return SeatEvent{}, fmt.Errorf("decode seat event: %w", err)
	}
	kind := EventKind(w.Event)
	if !kind.Valid() {
		return SeatEvent{}, fmt.Errorf("decode seat event: unknown kind %q", w.Event)
	}
	if w.SeatID == "" {
		return SeatEvent{}, fmt.Errorf("decode seat event: missing seat_id")
	}
	return SeatEvent{Kind: kind, SeatID: w.SeatID, ByUser: w.ByUser, Timestamp: time.Now().UTC()}, nil
}

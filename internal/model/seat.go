// Package model defines the domain types shared by the seat store, the
// lock session manager and the realtime sync client.
package model

// Status is the canonical availability status of a seat.  Every seat is
// in exactly one status at any moment; "selected" is deliberately not a
// status but an overlay kept by the store for seats the local user has
// provisionally chosen.
type Status string

// Canonical status partition.  A seat moves between these states only
// through store operations; Booked is terminal.
const (
	StatusAvailable Status = "available" // free for anyone to select
	StatusLocked    Status = "locked"    // held by some user, local or remote
	StatusBooked    Status = "booked"    // permanently assigned
	StatusBlocked   Status = "blocked"   // not sellable (driver seat, broken seat)
)

// Valid reports whether s is one of the canonical statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusLocked, StatusBooked, StatusBlocked:
		return true
	}
	return false
}

// Seat describes a single seat within a trip slot.  Seats are uniquely
// identified by their label (e.g. "A1") within the slot; the row and
// column coordinates exist only so a renderer can lay the grid out.
type Seat struct {
	ID  string `json:"id"`  // unique within the slot, e.g. "A1"
	Row int    `json:"row"` // zero-based row index in the grid
	Col int    `json:"col"` // zero-based column index in the grid
}

// SeatMap is the static layout of a slot plus the status lists returned
// by the seat-map read endpoint.  The four lists form the canonical
// partition at the time of the read.
type SeatMap struct {
	SlotID    string   `json:"slot_id"`
	Rows      int      `json:"rows"`
	Cols      int      `json:"cols"`
	Seats     []Seat   `json:"seats"`
	Available []string `json:"available"`
	Locked    []string `json:"locked"`
	Booked    []string `json:"booked"`
	Blocked   []string `json:"blocked"`
}

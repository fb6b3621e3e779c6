package model

import "time"

// LockGrant is the server's answer to a successful acquire-lock call.
// ExpiresIn is the remaining validity reported by the server at grant
// time; callers convert it to an absolute deadline immediately so local
// clock drift and tab-sleep cannot desynchronize the countdown.
type LockGrant struct {
	Token     string        // opaque lock token, correlates release/book calls
	ExpiresIn time.Duration // server-reported remaining validity
}

// LockSession is a confirmed, time-bounded hold on a set of seats.
// Exactly one session exists per client at a time; it is owned and
// mutated only by the lock session manager.
type LockSession struct {
	Token     string
	SeatIDs   []string
	ExpiresAt time.Time // absolute deadline derived from the grant
}

// Contains reports whether the session holds the given seat.
func (s *LockSession) Contains(seatID string) bool {
	if s == nil {
		return false
	}
	for _, id := range s.SeatIDs {
		if id == seatID {
			return true
		}
	}
	return false
}

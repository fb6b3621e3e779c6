// Package utils provides token helpers shared by the simulation server
// and its middleware.
package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GuestToken is a signed JWT identifying an anonymous booking client.
// Guests need no registration; the token exists so locks and bookings
// can be attributed to a stable identity for their lifetime.
type GuestToken struct {
	Token string    // the serialized JWT
	Exp   time.Time // UTC expiration time
}

// NewGuestToken builds and signs an HS256 JWT for a guest.  The subject
// is the guest id; the TTL should comfortably cover a booking flow
// (the default server uses 24h).
func NewGuestToken(secret, guestID string, ttl time.Duration) (GuestToken, error) {
	exp := time.Now().UTC().Add(ttl)
	claims := jwt.MapClaims{
		"sub":  guestID,
		"role": "GUEST",
		"exp":  exp.Unix(),
		"iat":  time.Now().UTC().Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return GuestToken{}, err
	}
	return GuestToken{Token: signed, Exp: exp}, nil
}

// Package api implements the HTTP client for the reservation lock API.
// The server is the arbiter of seat ownership; this client only issues
// the acquire/release/book calls and maps responses onto the error
// taxonomy the lock session manager expects.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/farebound/tripseats/internal/model"
)

// ErrSeatsUnavailable is returned when the server rejects an acquire
// because at least one requested seat is already locked or booked.
// It is expected contention, not a transport failure: the remediation
// is a fresh selection against refreshed seat status.
var ErrSeatsUnavailable = errors.New("seats unavailable")

// Client talks to the reservation lock API.  A zero Client is not
// usable; construct with New.
type Client struct {
	baseURL string
	token   string // bearer token for authenticated endpoints
	http    *http.Client
}

// New returns a client rooted at baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// SetToken installs the bearer token sent on authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// Guest obtains a guest session token from the server and installs it
// on the client.
func (c *Client) Guest(ctx context.Context) error {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/guest", nil, &out); err != nil {
		return fmt.Errorf("guest auth: %w", err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("guest auth: empty token in response")
	}
	c.token = out.AccessToken
	return nil
}

// SeatMap reads the layout and current status partition for a slot.
func (c *Client) SeatMap(ctx context.Context, slotID string) (model.SeatMap, error) {
	var out model.SeatMap
	if err := c.do(ctx, http.MethodGet, "/v1/slots/"+slotID+"/seats", nil, &out); err != nil {
		return model.SeatMap{}, fmt.Errorf("seat map: %w", err)
	}
	return out, nil
}

// AcquireLock requests a time-bounded hold on the given seats.  On
// contention it returns ErrSeatsUnavailable; any other error is a
// transport or server failure.  Both are surfaced to the user the same
// way, but callers may still distinguish them for logging.
func (c *Client) AcquireLock(ctx context.Context, slotID string, seatIDs []string) (model.LockGrant, error) {
	body := map[string]any{"seat_ids": seatIDs}
	var out struct {
		LockToken string `json:"lock_token"`
		ExpiresIn int    `json:"expires_in"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/slots/"+slotID+"/locks", body, &out)
	if err != nil {
		return model.LockGrant{}, fmt.Errorf("acquire lock: %w", err)
	}
	if out.LockToken == "" || out.ExpiresIn <= 0 {
		return model.LockGrant{}, fmt.Errorf("acquire lock: malformed grant in response")
	}
	return model.LockGrant{
		Token:     out.LockToken,
		ExpiresIn: time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}

// ReleaseLock gives up a hold.  Best effort: a false result or an error
// is non-fatal because the server's own TTL is the backstop.
func (c *Client) ReleaseLock(ctx context.Context, token string) (bool, error) {
	var out struct {
		Released bool `json:"released"`
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/locks/"+token, nil, &out); err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return out.Released, nil
}

// Book converts an active hold into a permanent booking.  The seat list
// must match the locked seats exactly; the server verifies.
func (c *Client) Book(ctx context.Context, token string, seatIDs []string) (string, error) {
	body := map[string]any{"seat_ids": seatIDs}
	var out struct {
		BookingID string `json:"booking_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/locks/"+token+"/book", body, &out); err != nil {
		return "", fmt.Errorf("book: %w", err)
	}
	return out.BookingID, nil
}

// do performs one JSON round trip.  4xx/5xx responses are decoded into
// the server's {"error": "..."} shape; 409 maps to ErrSeatsUnavailable.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrSeatsUnavailable
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("server: %s (http %d)", e.Error, resp.StatusCode)
		}
		return fmt.Errorf("server: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

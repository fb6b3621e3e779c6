package simserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/farebound/tripseats/internal/utils"
)

// Handler exposes the reservation API over HTTP.  It translates between
// the wire contract and the Server's domain operations.
type Handler struct {
	srv      *Server
	upgrader websocket.Upgrader
}

func NewHandler(srv *Server) *Handler {
	return &Handler{
		srv: srv,
		upgrader: websocket.Upgrader{
			// Dev harness: browser clients connect from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Guest issues an anonymous identity token.  No registration exists;
// a fresh guest id is minted per call.
func (h *Handler) Guest(c echo.Context) error {
	guestID := uuid.NewString()
	tok, err := utils.NewGuestToken(h.srv.cfg.JWTSecret, guestID, 24*time.Hour)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not issue token"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": tok.Token,
		"guest_id":     guestID,
		"expires_at":   tok.Exp,
	})
}

// SeatMap returns the slot layout and its current status partition.
func (h *Handler) SeatMap(c echo.Context) error {
	m, err := h.srv.SeatMap(c.Request().Context(), c.Param("slot"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "seat map unavailable"})
	}
	return c.JSON(http.StatusOK, m)
}

type acquireRequest struct {
	SeatIDs []string `json:"seat_ids"`
}

// AcquireLock places a timed hold on a set of seats for the caller.
func (h *Handler) AcquireLock(c echo.Context) error {
	var req acquireRequest
	if err := c.Bind(&req); err != nil || len(req.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	guestID, _ := c.Get("guest_id").(string)
	hold, err := h.srv.AcquireSeats(c.Request().Context(), c.Param("slot"), guestID, req.SeatIDs)
	switch {
	case errors.Is(err, ErrSeatsHeld):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, ErrUnknownSeat):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not acquire lock"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"lock_token": hold.Token,
		"expires_in": int(h.srv.cfg.LockTTL.Seconds()),
	})
}

// ReleaseLock gives a held set of seats back.  Stale or foreign tokens
// are not an error; the response just reports that nothing was released.
func (h *Handler) ReleaseLock(c echo.Context) error {
	guestID, _ := c.Get("guest_id").(string)
	released := h.srv.ReleaseHold(c.Request().Context(), guestID, c.Param("token"))
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

type bookRequest struct {
	SeatIDs []string `json:"seat_ids"`
}

// Book converts a live hold into a permanent booking.
func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil || len(req.SeatIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat_ids is required"})
	}
	guestID, _ := c.Get("guest_id").(string)
	bookingID, err := h.srv.BookSeats(c.Request().Context(), guestID, c.Param("token"), req.SeatIDs)
	switch {
	case errors.Is(err, ErrInvalidToken):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid or expired lock token"})
	case errors.Is(err, ErrSeatMismatch):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat ids do not match locked seats"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not book seats"})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking_id": bookingID})
}

// Events upgrades to a websocket and streams seat events for one slot
// until the client goes away.
func (h *Handler) Events(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	h.srv.hub.Serve(c.Param("slot"), ws)
	return nil
}

// Health is a liveness probe.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

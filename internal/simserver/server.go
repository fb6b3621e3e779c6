package simserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/farebound/tripseats/internal/config"
	"github.com/farebound/tripseats/internal/model"
)

// Contract errors mapped to HTTP statuses by the handlers.
var (
	ErrUnknownSeat  = errors.New("unknown or unsellable seat")
	ErrInvalidToken = errors.New("invalid lock token")
	ErrSeatMismatch = errors.New("seat ids do not match locked seats")
)

// Server owns the seat state of every slot it serves: the generated
// layout, permanent bookings, and the live holds (delegated to the
// HoldStore).  Every mutation is broadcast as a seat event on the
// websocket hub and, when a broker is configured, on AMQP.
type Server struct {
	cfg   config.Server
	clk   clock.Clock
	holds HoldStore
	hub   *Hub

	// Broker fan-out runs on one goroutine draining this queue so AMQP
	// subscribers see events in broadcast order.
	events    chan seatEventJob
	publishFn func(ctx context.Context, url, slotID string, ev model.SeatEvent) error

	mu      sync.Mutex
	slots   map[string]*slotState
	pending map[string]*pendingHold // live holds with their expiry timers
}

type seatEventJob struct {
	slotID string
	ev     model.SeatEvent
}

type slotState struct {
	seats   []model.Seat
	blocked map[string]struct{}
	booked  map[string]string // seat -> booking id
}

type pendingHold struct {
	hold  Hold
	timer *clock.Timer
}

// New assembles a server.  holds may be redis- or memory-backed; the
// caller decides based on what is reachable.
func New(cfg config.Server, clk clock.Clock, holds HoldStore, hub *Hub) *Server {
	s := &Server{
		cfg:       cfg,
		clk:       clk,
		holds:     holds,
		hub:       hub,
		publishFn: PublishSeatEvent,
		slots:     make(map[string]*slotState),
		pending:   make(map[string]*pendingHold),
	}
	if cfg.AMQPURL != "" {
		s.events = make(chan seatEventJob, 256)
		go s.publishLoop()
	}
	return s
}

// publishLoop drains the event queue one publish at a time, preserving
// the order the hub already guarantees its own clients.
func (s *Server) publishLoop() {
	for job := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.publishFn(ctx, s.cfg.AMQPURL, job.slotID, job.ev)
		cancel()
	}
}

// slot returns the slot state, generating the layout on first use so
// any slot id "exists" in the harness.
func (s *Server) slot(slotID string) *slotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotLocked(slotID)
}

func (s *Server) slotLocked(slotID string) *slotState {
	if st, ok := s.slots[slotID]; ok {
		return st
	}
	st := &slotState{
		blocked: map[string]struct{}{},
		booked:  map[string]string{},
	}
	for r := 0; r < s.cfg.Rows; r++ {
		for c := 0; c < s.cfg.Cols; c++ {
			id := fmt.Sprintf("%c%d", 'A'+r, c+1)
			st.seats = append(st.seats, model.Seat{ID: id, Row: r, Col: c})
		}
	}
	// First seat is the driver's and never sellable.
	if len(st.seats) > 0 {
		st.blocked[st.seats[0].ID] = struct{}{}
	}
	s.slots[slotID] = st
	return st
}

// SeatMap returns the layout plus the current status partition.
func (s *Server) SeatMap(ctx context.Context, slotID string) (model.SeatMap, error) {
	held, err := s.holds.HeldSeats(ctx, slotID)
	if err != nil {
		return model.SeatMap{}, err
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, id := range held {
		heldSet[id] = struct{}{}
	}
	st := s.slot(slotID)
	s.mu.Lock()
	defer s.mu.Unlock()
	m := model.SeatMap{SlotID: slotID, Rows: s.cfg.Rows, Cols: s.cfg.Cols, Seats: st.seats}
	for _, seat := range st.seats {
		id := seat.ID
		switch {
		case hasKey(st.blocked, id):
			m.Blocked = append(m.Blocked, id)
		case st.booked[id] != "":
			m.Booked = append(m.Booked, id)
		case hasKey(heldSet, id):
			m.Locked = append(m.Locked, id)
		default:
			m.Available = append(m.Available, id)
		}
	}
	return m, nil
}

// AcquireSeats places an all-or-nothing hold for a guest.  Sellability
// is checked against the layout and bookings first; contention with
// other holds is resolved atomically by the hold store.
func (s *Server) AcquireSeats(ctx context.Context, slotID, guestID string, seatIDs []string) (Hold, error) {
	if len(seatIDs) == 0 {
		return Hold{}, fmt.Errorf("%w: empty seat list", ErrUnknownSeat)
	}
	st := s.slot(slotID)
	s.mu.Lock()
	known := make(map[string]struct{}, len(st.seats))
	for _, seat := range st.seats {
		known[seat.ID] = struct{}{}
	}
	for _, id := range seatIDs {
		if !hasKey(known, id) || hasKey(st.blocked, id) {
			s.mu.Unlock()
			return Hold{}, fmt.Errorf("%w: %s", ErrUnknownSeat, id)
		}
		if st.booked[id] != "" {
			s.mu.Unlock()
			return Hold{}, fmt.Errorf("%w: %s is booked", ErrSeatsHeld, id)
		}
	}
	s.mu.Unlock()

	h := Hold{
		Token:     uuid.NewString(),
		SlotID:    slotID,
		GuestID:   guestID,
		SeatIDs:   append([]string(nil), seatIDs...),
		ExpiresAt: s.clk.Now().Add(s.cfg.LockTTL),
	}
	if err := s.holds.Acquire(ctx, h); err != nil {
		return Hold{}, err
	}

	s.mu.Lock()
	token := h.Token
	s.pending[token] = &pendingHold{
		hold:  h,
		timer: s.clk.AfterFunc(s.cfg.LockTTL, func() { s.expireHold(token) }),
	}
	s.mu.Unlock()

	for _, id := range h.SeatIDs {
		s.broadcast(slotID, model.SeatEvent{Kind: model.EventSeatLocked, SeatID: id, ByUser: guestID})
	}
	return h, nil
}

// ReleaseHold ends a hold by user intent.  Unknown, expired or foreign
// tokens report released=false without error, per the lock API.
func (s *Server) ReleaseHold(ctx context.Context, guestID, token string) bool {
	s.mu.Lock()
	p, ok := s.pending[token]
	if !ok || p.hold.GuestID != guestID {
		s.mu.Unlock()
		return false
	}
	p.timer.Stop()
	delete(s.pending, token)
	h := p.hold
	s.mu.Unlock()

	if _, _, err := s.holds.Release(ctx, token); err != nil {
		log.Printf("simserver: hold store release %q: %v", token, err)
	}
	for _, id := range h.SeatIDs {
		s.broadcast(h.SlotID, model.SeatEvent{Kind: model.EventSeatUnlocked, SeatID: id, ByUser: guestID})
	}
	return true
}

// BookSeats converts a live hold into a permanent booking.  The token
// must belong to the guest and cover exactly the requested seats.
func (s *Server) BookSeats(ctx context.Context, guestID, token string, seatIDs []string) (string, error) {
	s.mu.Lock()
	p, ok := s.pending[token]
	if !ok || p.hold.GuestID != guestID {
		s.mu.Unlock()
		return "", ErrInvalidToken
	}
	if !sameSeatSet(p.hold.SeatIDs, seatIDs) {
		s.mu.Unlock()
		return "", ErrSeatMismatch
	}
	p.timer.Stop()
	delete(s.pending, token)
	h := p.hold
	bookingID := uuid.NewString()
	st := s.slotLocked(h.SlotID)
	for _, id := range h.SeatIDs {
		st.booked[id] = bookingID
	}
	s.mu.Unlock()

	if _, _, err := s.holds.Release(ctx, token); err != nil {
		log.Printf("simserver: hold store release %q: %v", token, err)
	}
	for _, id := range h.SeatIDs {
		s.broadcast(h.SlotID, model.SeatEvent{Kind: model.EventSeatBooked, SeatID: id, ByUser: guestID})
	}
	return bookingID, nil
}

// expireHold fires at a hold's deadline: the seats go back on sale and
// every watcher hears about it.  This is the server-side TTL backstop
// that makes client-side release strictly best-effort.
func (s *Server) expireHold(token string) {
	s.mu.Lock()
	p, ok := s.pending[token]
	if !ok {
		s.mu.Unlock()
		return // released or booked first
	}
	delete(s.pending, token)
	h := p.hold
	s.mu.Unlock()

	log.Printf("simserver: hold %q expired, releasing %v", token, h.SeatIDs)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := s.holds.Release(ctx, token); err != nil {
		log.Printf("simserver: hold store release %q: %v", token, err)
	}
	for _, id := range h.SeatIDs {
		s.broadcast(h.SlotID, model.SeatEvent{Kind: model.EventSeatUnlocked, SeatID: id})
	}
}

func (s *Server) broadcast(slotID string, ev model.SeatEvent) {
	ev.Timestamp = s.clk.Now()
	s.hub.Broadcast(slotID, ev)
	if s.events != nil {
		select {
		case s.events <- seatEventJob{slotID: slotID, ev: ev}:
		default:
			log.Printf("simserver: amqp publish queue full, dropping %s %s", ev.Kind, ev.SeatID)
		}
	}
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

func sameSeatSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if !hasKey(set, id) {
			return false
		}
	}
	return true
}

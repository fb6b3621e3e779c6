package simserver

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestMemoryHoldStoreAcquireIsAllOrNothing(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryHoldStore(clk)
	ctx := context.Background()

	h1 := Hold{Token: "t1", SlotID: "slot-1", GuestID: "g1", SeatIDs: []string{"B1", "B2"}, ExpiresAt: clk.Now().Add(time.Minute)}
	if err := s.Acquire(ctx, h1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	h2 := Hold{Token: "t2", SlotID: "slot-1", GuestID: "g2", SeatIDs: []string{"B2", "C1"}, ExpiresAt: clk.Now().Add(time.Minute)}
	if err := s.Acquire(ctx, h2); !errors.Is(err, ErrSeatsHeld) {
		t.Fatalf("overlapping acquire: got %v, want ErrSeatsHeld", err)
	}

	// C1 must not have been taken by the failed acquire.
	held, err := s.HeldSeats(ctx, "slot-1")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(held)
	if len(held) != 2 || held[0] != "B1" || held[1] != "B2" {
		t.Fatalf("held seats after failed acquire: %v", held)
	}
}

func TestMemoryHoldStoreSlotsAreIndependent(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryHoldStore(clk)
	ctx := context.Background()

	if err := s.Acquire(ctx, Hold{Token: "t1", SlotID: "slot-1", SeatIDs: []string{"B1"}, ExpiresAt: clk.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Acquire(ctx, Hold{Token: "t2", SlotID: "slot-2", SeatIDs: []string{"B1"}, ExpiresAt: clk.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("same seat id in another slot: %v", err)
	}
}

func TestMemoryHoldStoreRelease(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryHoldStore(clk)
	ctx := context.Background()

	h := Hold{Token: "t1", SlotID: "slot-1", GuestID: "g1", SeatIDs: []string{"B1"}, ExpiresAt: clk.Now().Add(time.Minute)}
	if err := s.Acquire(ctx, h); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.Release(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}
	if got.GuestID != "g1" {
		t.Fatalf("released hold guest = %q", got.GuestID)
	}
	if _, ok, _ := s.Release(ctx, "t1"); ok {
		t.Fatal("second release reported ok")
	}
	held, _ := s.HeldSeats(ctx, "slot-1")
	if len(held) != 0 {
		t.Fatalf("seats still held after release: %v", held)
	}
}

func TestMemoryHoldStoreExpiry(t *testing.T) {
	clk := clock.NewMock()
	s := NewMemoryHoldStore(clk)
	ctx := context.Background()

	h := Hold{Token: "t1", SlotID: "slot-1", SeatIDs: []string{"B1"}, ExpiresAt: clk.Now().Add(time.Minute)}
	if err := s.Acquire(ctx, h); err != nil {
		t.Fatal(err)
	}

	clk.Add(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "t1"); !ok {
		t.Fatal("hold vanished before its deadline")
	}

	clk.Add(time.Second)
	if _, ok, _ := s.Get(ctx, "t1"); ok {
		t.Fatal("hold still visible past its deadline")
	}
	held, _ := s.HeldSeats(ctx, "slot-1")
	if len(held) != 0 {
		t.Fatalf("expired seats still held: %v", held)
	}

	// The seat is free for the next guest.
	h2 := Hold{Token: "t2", SlotID: "slot-1", SeatIDs: []string{"B1"}, ExpiresAt: clk.Now().Add(time.Minute)}
	if err := s.Acquire(ctx, h2); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

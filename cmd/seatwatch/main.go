// seatwatch is a terminal client for the seat reservation API.  It
// renders the live seat map of one slot and, when asked, runs a full
// select-lock-book flow against it.  With no server configured it runs
// on a synthetic event feed, which makes it handy for eyeballing the
// reconciliation behavior offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/farebound/tripseats/internal/booking"
	"github.com/farebound/tripseats/internal/config"
	"github.com/farebound/tripseats/internal/lock"
	"github.com/farebound/tripseats/internal/model"
	"github.com/farebound/tripseats/internal/realtime"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadClient()

	seats := flag.String("seats", "", "comma-separated seat ids to lock and book (empty: watch only)")
	holdFor := flag.Duration("hold", 10*time.Second, "how long to sit on the lock before booking")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := booking.New(booking.Options{
		BaseURL: cfg.BaseURL,
		Slot:    cfg.SlotID,
		WSURL:   cfg.WSURL,
		AMQPURL: cfg.AMQPURL,
	})
	if err := client.Start(ctx); err != nil {
		log.Fatalf("seatwatch: %v", err)
	}
	defer client.Close()

	cancel := client.Subscribe(func(u booking.Update) { render(client, u) })
	defer cancel()
	render(client, booking.Update{Reason: booking.ReasonSeats})

	if *seats == "" {
		log.Printf("watching slot %s, ctrl-c to quit", cfg.SlotID)
		<-ctx.Done()
		return
	}

	if err := bookFlow(ctx, client, strings.Split(*seats, ","), *holdFor); err != nil {
		log.Fatalf("seatwatch: %v", err)
	}
}

// bookFlow selects the seats, holds the lock for a while (so expiry
// and contention are observable), then books.
func bookFlow(ctx context.Context, client *booking.Client, seatIDs []string, holdFor time.Duration) error {
	for _, id := range seatIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !client.Select(id) {
			return fmt.Errorf("seat %s is not available", id)
		}
	}
	if err := client.RequestLock(ctx); err != nil {
		return err
	}

	// The lock outcome arrives asynchronously; wait for it.
	for client.LockState().State == lock.StateRequesting {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	snap := client.LockState()
	if snap.State != lock.StateActive {
		return fmt.Errorf("lock not granted: %s (%v)", snap.EndReason, snap.Err)
	}
	log.Printf("locked %v for %s", snap.SeatIDs, snap.Remaining)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(holdFor):
	}

	bookingID, err := client.Book(ctx)
	if err != nil {
		return err
	}
	log.Printf("booked: %s", bookingID)
	return nil
}

// render prints the seat grid plus the lock and connection lines.
func render(client *booking.Client, u booking.Update) {
	var b strings.Builder
	row := -1
	for _, seat := range client.Seats() {
		if seat.Row != row {
			if row >= 0 {
				b.WriteByte('\n')
			}
			row = seat.Row
		}
		b.WriteString(glyph(client, seat.ID))
		b.WriteByte(' ')
	}
	fmt.Println(b.String())

	if l := u.Lock; l.State == lock.StateActive {
		fmt.Printf("lock: %v, %s left\n", l.SeatIDs, l.Remaining.Round(time.Second))
	}
	if c := u.Conn; c.Terminal {
		fmt.Println("connection lost, retry budget spent; seat map may be out of sync")
	} else if c.State == realtime.StateConnecting && c.Attempts > 0 {
		fmt.Printf("reconnecting (attempt %d)\n", c.Attempts)
	}
}

func glyph(client *booking.Client, seatID string) string {
	if client.Selected(seatID) {
		return "[*]"
	}
	switch client.Status(seatID) {
	case model.StatusAvailable:
		return "[ ]"
	case model.StatusLocked:
		return "[o]"
	case model.StatusBooked:
		return "[x]"
	default:
		return " - " // blocked
	}
}

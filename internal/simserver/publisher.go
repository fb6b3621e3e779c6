package simserver

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/farebound/tripseats/internal/model"
)

// seatEventsExchange mirrors the exchange the AMQP realtime transport
// binds to.
const seatEventsExchange = "seat.events"

// PublishSeatEvent publishes one seat event to the seat.events exchange
// with the slot id as routing key, so AMQP-connected clients receive
// the same stream the websocket hub carries.  Errors are logged and
// returned; broadcast volume in the harness is low enough that a dial
// per publish keeps the code free of connection bookkeeping.
func PublishSeatEvent(ctx context.Context, url, slotID string, ev model.SeatEvent) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		log.Printf("amqp: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("amqp: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(seatEventsExchange, "direct", false, false, false, false, nil); err != nil {
		log.Printf("amqp: exchange declare failed: %v", err)
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("amqp: marshal event failed: %v", err)
		return err
	}
	pub := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	}
	if err := ch.PublishWithContext(ctx, seatEventsExchange, slotID, false, false, pub); err != nil {
		log.Printf("amqp: publish failed: %v", err)
		return err
	}
	return nil
}

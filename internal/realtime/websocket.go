package realtime

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/farebound/tripseats/internal/model"
)

// WebsocketTransport dials the per-slot websocket push endpoint, e.g.
// ws://host/v1/slots/{slot}/events.
type WebsocketTransport struct {
	URL    string
	Header http.Header // optional, carries the bearer token if required
}

// Dial opens the websocket connection.
func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

// Receive blocks for the next event frame.  Malformed frames are logged
// and skipped; only transport errors kill the connection.
func (c *wsConn) Receive() (model.SeatEvent, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return model.SeatEvent{}, err
		}
		ev, err := model.DecodeSeatEvent(data)
		if err != nil {
			log.Printf("sync: dropping bad frame: %v", err)
			continue
		}
		return ev, nil
	}
}

func (c *wsConn) Close() error {
	// Best-effort polite close; the read loop unblocks either way.
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

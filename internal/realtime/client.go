package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second    // time allowed to write a message to the peer
	pongWait       = 30 * time.Second    // time allowed to read the next pong
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 32 * 1024           // inbound realtime events are small JSON envelopes
	sendBufferSize = 256
)

// Client is the transport-level middleman between a websocket connection and
// the Router: it owns the read/write pumps and the outbound event channel the
// Registry addresses by connection id.
type Client struct {
	id     string
	userID int64
	conn   *websocket.Conn
	send   chan Event
	router *Router
	log    zerolog.Logger

	writeMu sync.Mutex
}

// NewClient wraps an already-upgraded websocket connection.
func NewClient(id string, userID int64, conn *websocket.Conn, router *Router, log zerolog.Logger) *Client {
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan Event, sendBufferSize),
		router: router,
		log:    log,
	}
}

// Send returns the channel the Registry writes outbound events to.
func (c *Client) Send() chan Event { return c.send }

// ReadPump pumps inbound events from the websocket to the Router until the
// connection errors or closes. Must run in its own goroutine; the caller is
// responsible for unregistering the client afterward.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info().Err(err).Str("connId", c.id).Msg("websocket read closed")
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.sendError("invalid event envelope", "")
			continue
		}
		// Events are dispatched one at a time, in arrival order, per the
		// single-threaded-per-connection scheduling guarantee: no `go` here.
		c.router.Dispatch(ctx, c, ev)
	}
}

// WritePump pumps outbound events from the Registry to the websocket,
// interleaved with periodic pings, until send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				c.log.Error().Err(err).Msg("marshal outbound event failed")
				continue
			}
			if err := c.write(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *Client) sendError(message, kind string) {
	select {
	case c.send <- NewEvent(OutError, ErrorPayload{Message: message, Kind: kind}):
	default:
	}
}

package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client adapts one gorilla connection to the relay's EventSink: events are
// marshaled once, queued on a buffered channel, and written by a single pump
// so per-connection ordering is preserved.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn) *Client {
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

var _ relay.EventSink = (*Client)(nil)

// Send queues an event for delivery. A session whose buffer is full is a
// slow consumer and gets closed; it will reconnect and fetch history.
func (c *Client) Send(event any) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		log.Printf("ws: send buffer full, dropping slow consumer %s", c.conn.RemoteAddr())
		c.Close()
		return false
	}
}

// Close shuts the session down; the read loop exits once the underlying
// connection closes.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send queue onto the wire and keeps the connection
// alive with pings. Runs in its own goroutine per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) setupRead() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

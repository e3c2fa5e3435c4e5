package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 64 KB is enough for SDP.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. A full buffer drops the message
	// rather than blocking the sender.
	sendBuffer = 64
)

// Client is a wrapper for a single websocket connection. Its session id is
// assigned at upgrade time and doubles as the registry key.
//
// send is never closed: concurrent Deliver calls race disconnect, and a send
// on a closed channel would panic even inside a select with a default case.
// Shutdown is signalled through done instead.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan *protocol.Envelope
	done chan struct{}
	log  zerolog.Logger
}

// readPump pumps messages from the websocket connection into the hub
// dispatcher. There is at most one reader per connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

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
				c.log.Debug().Err(err).Msg("Read error")
			}
			break
		}
		c.hub.handleMessage(c, raw)
	}
}

// writePump pumps envelopes from the send channel to the websocket
// connection and keeps the connection alive with pings. There is at most one
// writer per connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug().Err(err).Msg("Write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

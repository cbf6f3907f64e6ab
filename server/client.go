package main

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// readPump only watches for the viewer going away, viewers send nothing
func (c *Client) readPump() {
	defer func() {
		c.manager.RemoveClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(WebSocketReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("[ws] read")
			}
			return
		}
	}
}

// writePump sends JPEG frames as binary messages and keeps the connection alive
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("[ws] write")
				return
			}

		case <-ticker.C:
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			if closed {
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

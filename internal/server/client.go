package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection. It implements relay.Channel: the hub
// hands it payloads through Send, and its read pump feeds inbound frames back
// into the hub.
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	addr     string
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
	log      logrus.FieldLogger
}

// NewClient creates a Client for conn with an outbound queue of bufferSize
// payloads. conn may be nil in tests that only exercise Send.
func NewClient(conn *websocket.Conn, srv *Server, addr string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	id := uuid.NewString()
	c := &Client{
		id:     id,
		conn:   conn,
		server: srv,
		addr:   addr,
		send:   make(chan []byte, bufferSize),
		done:   make(chan struct{}),
		log:    logrus.StandardLogger(),
	}
	if srv != nil {
		c.log = srv.log
		if conn != nil {
			conn.SetReadLimit(int64(srv.cfg.MaxFrameSize))
		}
	}
	c.log = c.log.WithFields(logrus.Fields{"channel": id, "remote": addr})
	return c
}

// String identifies the client in logs.
func (c *Client) String() string {
	return c.id
}

// Send queues payload for the write pump without blocking. It returns false
// when the client is closed or its queue is full.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// GetSendChan returns the client's outbound queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Close stops the pumps. It is safe to call more than once.
func (c *Client) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				c.log.WithError(err).Warn("Error closing connection")
			}
		}
	})
}

// setupReadConnection sets the read deadline and extends it on every pong.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.WithError(err).Warn("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the reason a read failed. Every read error ends the
// connection; the classification only picks the log line.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.WithField("limit", c.server.cfg.MaxFrameSize).Warn("Frame exceeded transport limit")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.WithError(err).Info("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.WithError(err).Info("Client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.WithError(err).Warn("Unexpected WebSocket error")
	default:
		c.log.WithError(err).Warn("WebSocket read error")
	}
}

// readPump forwards inbound frames to the hub until the connection fails.
func (c *Client) readPump() {
	defer func() {
		c.server.hub.OnChannelClosed(c)
		c.server.forget(c)
		c.Close()
	}()

	c.setupReadConnection()

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		c.server.hub.OnMessageReceived(c, raw)
	}
}

// writePump drains the outbound queue and sends pings until the client closes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.writeCloseMessage()
		return false
	}
}

// writeTextMessage writes one payload as its own frame. Each frame carries a
// complete JSON batch, so queued payloads are never joined.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("Error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a normal-closure frame to the client.
func (c *Client) writeCloseMessage() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.log.WithError(err).Debug("Error writing close message")
	}
}

// handlePing sends a keepalive ping. It returns false when the write fails.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.WithError(err).Warn("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.WithError(err).Warn("Error writing ping message")
		}
		return false
	}
	return true
}

// isExpectedCloseError reports whether err is a normal result of closing the connection.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxClientMessage bounds what a client may send; only heartbeats are read.
const maxClientMessage = 4096

// Config tunes WebSocket connections.
type Config struct {
	// PingPeriod is how often the server pings a client. Must be below PongWait.
	PingPeriod time.Duration
	// PongWait is how long a client may stay silent before it is dropped.
	PongWait time.Duration
	// WriteWait bounds a single write.
	WriteWait time.Duration
	// SendBuffer is the number of messages queued per client.
	SendBuffer int
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		PingPeriod: 30 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingPeriod <= 0 {
		c.PingPeriod = d.PingPeriod
	}
	if c.PongWait <= c.PingPeriod {
		c.PongWait = 2 * c.PingPeriod
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}

// Client is a WebSocket connection registered with a Hub. Messages are
// queued on a buffered channel drained by a single writer goroutine, so a
// client receives them in the order they were sent.
type Client struct {
	conn    *websocket.Conn
	session string
	config  Config
	logger  *slog.Logger

	mu     sync.Mutex
	send   chan Message
	closed bool
}

var _ Channel = (*Client)(nil)

func newClient(conn *websocket.Conn, session string, config Config, logger *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		session: session,
		config:  config,
		logger:  logger,
		send:    make(chan Message, config.SendBuffer),
	}
}

// Send queues msg without blocking.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close stops the writer, which sends a close frame and closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads heartbeats until the connection fails, then unregisters
// the client.
func (c *Client) readPump(hub *Hub) {
	defer func() {
		if hub.Unregister(c.session, c) {
			c.Close()
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info("websocket read failed", "session_id", c.session, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed client message", "session_id", c.session, "error", err)
			continue
		}
		if msg.Type != TypePing {
			c.logger.Debug("ignoring client message", "session_id", c.session, "type", msg.Type)
			continue
		}
		if err := c.Send(NewMessage(TypePong, "", PongPayload{Timestamp: msg.Timestamp})); err != nil {
			return
		}
	}
}

// writePump writes queued messages and protocol pings until the client is
// closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Info("websocket write failed", "session_id", c.session, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

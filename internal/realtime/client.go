package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when the send buffer is full.
	ErrSlowConsumer = errors.New("send buffer full")
)

const readLimit = 65536

// NewUpgrader returns a websocket upgrader accepting the given origins. An empty list or "*"
// accepts any origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
		},
	}
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket connection in a webinar room.
type Client struct {
	ID        string
	WebinarID uuid.UUID
	JoinedAt  time.Time

	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger

	onMessage func(WSMessage)
	onEvent   func(event string, data json.RawMessage)
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, webinarID uuid.UUID, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New().String()
	return &Client{
		ID:        id,
		WebinarID: webinarID,
		hub:       hub,
		conn:      conn,
		send:      make(chan WSMessage, 256),
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("client_id", id)),
	}
}

// OnMessage sets the handler for messages from the browser. It runs on the read goroutine.
func (c *Client) OnMessage(fn func(WSMessage)) { c.onMessage = fn }

// OnEvent sets the handler for hub events such as EventMessagesUpdated.
func (c *Client) OnEvent(fn func(event string, data json.RawMessage)) { c.onEvent = fn }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send queues a message for the browser without blocking.
func (c *Client) Send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSlowConsumer
	}
}

// Run registers the client and pumps messages until the connection closes.
func (c *Client) Run() {
	c.JoinedAt = time.Now()
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

// Close ends the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) dispatchEvent(event string, data json.RawMessage) {
	if c.onEvent != nil {
		c.onEvent(event, data)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

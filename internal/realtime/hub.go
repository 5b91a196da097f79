// Package realtime keeps the live playback connections of each webinar and fans out
// webinar events across instances over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// EventMessagesUpdated tells playback connections to refetch the seeded chat.
const EventMessagesUpdated = "messages_updated"

// Publisher publishes a webinar event to every instance.
type Publisher interface {
	PublishWebinarEvent(ctx context.Context, webinarID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a webinar's events and invokes handler for each.
type Subscriber interface {
	SubscribeWebinar(webinarID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains webinar_id -> set of connections.
type Hub struct {
	webinars map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	pub      Publisher
	sub      Subscriber
	logger   *zap.Logger
}

// NewHub creates a hub. Without a publisher events stay on this instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		webinars: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		pub:      pub,
		sub:      sub,
		logger:   logger,
	}
}

// Register adds a client to its webinar room and subscribes the room on first join.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.webinars[c.WebinarID] == nil {
		h.webinars[c.WebinarID] = make(map[string]*Client)
		if h.sub != nil {
			webinarID := c.WebinarID
			cancel, err := h.sub.SubscribeWebinar(webinarID, func(event string, payload []byte) {
				h.Deliver(webinarID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("webinar subscribe failed", zap.String("webinar_id", webinarID.String()), zap.Error(err))
			} else {
				h.subs[webinarID] = cancel
			}
		}
	}
	h.webinars[c.WebinarID][c.ID] = c
	h.logger.Debug("client joined webinar", zap.String("client_id", c.ID), zap.String("webinar_id", c.WebinarID.String()))
}

// Unregister removes a client and cancels the room subscription when the last one leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.webinars[c.WebinarID]
	if !ok {
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.webinars, c.WebinarID)
		if cancel, ok := h.subs[c.WebinarID]; ok {
			cancel()
			delete(h.subs, c.WebinarID)
		}
	}
	h.logger.Debug("client left webinar", zap.String("client_id", c.ID), zap.String("webinar_id", c.WebinarID.String()))
}

func (h *Hub) clients(webinarID uuid.UUID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]*Client, 0, len(h.webinars[webinarID]))
	for _, c := range h.webinars[webinarID] {
		list = append(list, c)
	}
	return list
}

// Deliver hands an event to the local connections of a webinar.
func (h *Hub) Deliver(webinarID uuid.UUID, event string, data json.RawMessage) {
	for _, c := range h.clients(webinarID) {
		c.dispatchEvent(event, data)
	}
}

// Publish sends an event to every instance. With Redis the subscriber callback performs the
// local delivery, so local connections see the event exactly once.
func (h *Hub) Publish(ctx context.Context, webinarID uuid.UUID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if h.pub != nil {
		return h.pub.PublishWebinarEvent(ctx, webinarID, event, data)
	}
	h.Deliver(webinarID, event, data)
	return nil
}

// BroadcastToWebinar writes a message to every local browser of a webinar.
func (h *Hub) BroadcastToWebinar(webinarID uuid.UUID, event string, payload interface{}) {
	for _, c := range h.clients(webinarID) {
		_ = c.Send(event, payload)
	}
}

// AudienceCount returns the number of connected clients in a webinar.
func (h *Hub) AudienceCount(webinarID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.webinars[webinarID])
}

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second

	// EventStats carries a models.PollStats payload.
	EventStats = "stats"
	// EventViewers carries the number of connected viewers of a poll.
	EventViewers = "viewers"
)

// Publisher forwards poll events to other instances.
type Publisher interface {
	PublishPollEvent(pollID uuid.UUID, event string, payload []byte) error
}

// Subscriber delivers poll events published by any instance.
type Subscriber interface {
	SubscribePoll(pollID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains poll_id -> set of viewer connections and broadcasts tally updates.
// With Redis configured, updates are published and the subscription performs the local
// broadcast, so each instance delivers every update exactly once.
type Hub struct {
	polls  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func()
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a hub. pub and sub may be nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		polls:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a viewer. The first viewer of a poll starts its Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.polls[c.PollID] == nil {
		h.polls[c.PollID] = make(map[string]*Client)
		if h.sub != nil {
			pollID := c.PollID
			cancel, err := h.sub.SubscribePoll(pollID, func(event string, payload []byte) {
				h.Broadcast(pollID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("poll subscription failed", zap.String("poll_id", pollID.String()), zap.Error(err))
			} else {
				h.subs[pollID] = cancel
			}
		}
	}
	h.polls[c.PollID][c.ID] = c
	count := len(h.polls[c.PollID])
	h.mu.Unlock()

	h.Broadcast(c.PollID, EventViewers, map[string]int{"count": count})
	h.logger.Debug("viewer joined poll", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID.String()))
}

// Unregister removes a viewer and closes its send channel. The last viewer cancels the subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	count := 0
	if m, ok := h.polls[c.PollID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		count = len(m)
		if count == 0 {
			delete(h.polls, c.PollID)
			if cancel, ok := h.subs[c.PollID]; ok {
				cancel()
				delete(h.subs, c.PollID)
			}
		}
	}
	h.mu.Unlock()

	if count > 0 {
		h.Broadcast(c.PollID, EventViewers, map[string]int{"count": count})
	}
	h.logger.Debug("viewer left poll", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID.String()))
}

// Broadcast sends a message to the local viewers of a poll. Slow viewers whose buffer is full miss it.
func (h *Hub) Broadcast(pollID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal broadcast", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.polls[pollID] {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// PublishStats delivers a new tally to every viewer of the poll on every instance.
func (h *Hub) PublishStats(pollID uuid.UUID, stats models.PollStats) {
	if h.pub == nil {
		h.Broadcast(pollID, EventStats, stats)
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := h.pub.PublishPollEvent(pollID, EventStats, data); err != nil {
		h.logger.Warn("publish stats failed, broadcasting locally", zap.String("poll_id", pollID.String()), zap.Error(err))
		h.Broadcast(pollID, EventStats, json.RawMessage(data))
	}
}

// ViewerCount returns the number of local viewers of a poll.
func (h *Hub) ViewerCount(pollID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.polls[pollID])
}

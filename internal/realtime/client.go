package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-polls/backend/internal/models"
	"github.com/aura-polls/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one viewer connection watching a poll's tally.
type Client struct {
	ID     string
	PollID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// Authorizer decides whether the request may watch the poll. It writes no response.
type Authorizer func(c *gin.Context, pollID uuid.UUID) error

// StatsSource returns the current tally of a poll for the initial snapshot.
type StatsSource func(ctx context.Context, pollID uuid.UUID) (models.PollStats, error)

// ServeWs handles GET /ws/polls/:id: upgrades, sends the current tally, then streams updates.
// The tally is read again once the viewer is registered, so a vote that lands between the first
// read and registration still reaches it.
func ServeWs(hub *Hub, logger *zap.Logger, authorize Authorizer, snapshot StatsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		pollID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid poll id")
			return
		}
		if err := authorize(c, pollID); err != nil {
			response.Forbidden(c, err.Error())
			return
		}
		stats, err := snapshot(c.Request.Context(), pollID)
		if err != nil {
			response.NotFound(c, "poll not found")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			PollID: pollID,
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, 64),
			logger: logger,
		}
		if data, err := json.Marshal(stats); err == nil {
			client.send <- WSMessage{Event: EventStats, Data: data}
		}
		hub.Register(client)
		go client.writePump()

		latest, err := snapshot(c.Request.Context(), pollID)
		if err != nil {
			logger.Warn("stats reload failed", zap.String("poll_id", pollID.String()), zap.Error(err))
		} else if latest.TotalVotes != stats.TotalVotes {
			if data, err := json.Marshal(latest); err == nil {
				client.enqueue(WSMessage{Event: EventStats, Data: data})
			}
		}
		client.readPump()
	}
}

// enqueue waits for room in the send buffer, giving up after a write period.
func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-time.After(10 * time.Second):
		c.logger.Warn("viewer send buffer full", zap.String("client_id", c.ID))
	}
}

// readPump only keeps the connection alive; viewers have nothing to send.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

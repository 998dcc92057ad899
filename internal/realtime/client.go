package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Heartbeat and buffer settings for feed listeners.
const (
	pingEvery    = 30 * time.Second
	pongTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxFrame     = 4096
	sendBuffer   = 256
)

// Browser overlays connect from arbitrary origins; access is decided by the token.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one listener following a stream session's memory feed.
type Client struct {
	ID        string
	SessionID uuid.UUID
	Role      string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// TokenValidator returns the role carried by a service token.
type TokenValidator func(token string) (role string, err error)

func reject(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// ServeWs handles GET /ws?session_id=&token= and runs the listener loop. Listeners
// only receive; memory is written through the HTTP API.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		raw, token := c.Query("session_id"), c.Query("token")
		if raw == "" || token == "" {
			reject(c, http.StatusBadRequest, "session_id and token required")
			return
		}
		sessionID, err := uuid.Parse(raw)
		if err != nil {
			reject(c, http.StatusBadRequest, "invalid session_id")
			return
		}
		role, err := validate(token)
		if err != nil {
			reject(c, http.StatusUnauthorized, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.String("session_id", raw), zap.Error(err))
			return
		}
		client := &Client{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      role,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, sendBuffer),
			logger:    logger,
		}
		hub.Register(client)
		client.offer(client.listenersMessage("welcome"))
		go client.writeLoop()
		client.readLoop()
	}
}

// offer queues msg without blocking; a listener with a full buffer misses it.
func (c *Client) offer(msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) listenersMessage(event string) WSMessage {
	data, _ := json.Marshal(map[string]interface{}{
		"session_id": c.SessionID,
		"listeners":  c.hub.ListenerCount(c.SessionID),
	})
	return WSMessage{Event: event, Data: data}
}

func (c *Client) extendDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
}

// readLoop answers keepalive and listener-count requests until the socket fails.
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrame)
	c.extendDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("listener dropped", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.extendDeadline()
		switch msg.Event {
		case "ping":
			c.offer(WSMessage{Event: "pong"})
		case "listeners":
			c.offer(c.listenersMessage("listeners"))
		}
	}
}

// writeLoop drains the send buffer and pings the listener; it ends when the hub
// closes the buffer or a write fails.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu          sync.RWMutex
	topics      map[Topic]bool
	permissions []auth.Permission
}

// clientMessage is a command sent by a client.
type clientMessage struct {
	Type   string  `json:"type"`
	Token  string  `json:"token,omitempty"`
	Topics []Topic `json:"topics,omitempty"`
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	topics := make(map[Topic]bool, len(AllTopics))
	for _, t := range AllTopics {
		topics[t] = true
	}
	return &Client{
		id:     uuid.New().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
		topics: topics,
	}
}

func (c *Client) subscribed(t Topic) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[t]
}

func (c *Client) setTopics(topics []Topic, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = on
	}
}

// registerWithHub returns false when the hub has stopped.
func (c *Client) registerWithHub() bool {
	select {
	case c.hub.register <- c:
		return true
	case <-c.hub.stop:
		return false
	}
}

// readPump authenticates the client when the hub requires it, then handles
// subscription commands until the connection closes.
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.stop:
			}
			c.conn.Close()
			return
		}
		// writePump flushes queued replies and owns the close.
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if c.hub.jwt == nil {
		c.permissions = auth.RoleAdmin.Permissions()
		if registered = c.registerWithHub(); !registered {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id))
			}
			return
		}

		if !registered {
			if !c.authenticate(msg) {
				return
			}
			if registered = c.registerWithHub(); !registered {
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg clientMessage) bool {
	if msg.Type != "auth" || msg.Token == "" {
		c.sendJSON(map[string]interface{}{
			"type":      "auth_failed",
			"timestamp": time.Now(),
			"reason":    "First message must be authentication",
		})
		return false
	}

	claims, err := c.hub.jwt.ValidateAccessToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("client_id", c.id))
		c.sendJSON(map[string]interface{}{
			"type":      "auth_failed",
			"timestamp": time.Now(),
			"reason":    "Invalid or expired token",
		})
		return false
	}

	c.permissions = auth.Role(claims.Role).Permissions()
	c.sendJSON(map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": c.permissions,
	})
	c.logger.Info("WebSocket client authenticated",
		zap.String("client_id", c.id),
		zap.String("subject", claims.Subject))
	return true
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.setTopics(msg.Topics, true)
	case "unsubscribe":
		c.setTopics(msg.Topics, false)
	default:
		c.logger.Debug("Unknown client message",
			zap.String("client_id", c.id),
			zap.String("type", msg.Type))
		return
	}

	c.logger.Debug("WebSocket subscription changed",
		zap.String("client_id", c.id),
		zap.String("type", msg.Type),
		zap.Any("topics", msg.Topics))
}

// sendJSON queues a reply before the client is registered; afterwards only
// the hub writes to send. It drops the reply when the buffer is full.
func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into the current frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
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

// ServeWs upgrades the request and starts the client pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := newClient(hub, conn)

	go client.writePump()
	go client.readPump()
}

package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"realty-chat/pkg/chat"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound frames buffered per connection before deliveries are dropped.
	sendBufferSize = 256
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// NewUpgrader builds the handshake upgrader. An empty allow list accepts any
// origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		},
	}
}

// MessageProcessor handles one inbound frame from a client.
type MessageProcessor interface {
	HandleMessage(client *Client, data []byte)
}

// Client represents a WebSocket client connection
type Client struct {
	id string

	// The websocket connection.
	conn Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// The hub this client is connected to.
	hub *Hub

	// Identity bound at handshake
	userID   string
	username string

	remoteAddr string

	mu sync.RWMutex

	// Connection metadata
	connectedAt time.Time
	lastSeen    time.Time

	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewClient creates a new WebSocket client with a fresh connection id
func NewClient(hub *Hub, conn Conn, userID, username string) *Client {
	now := time.Now()
	c := &Client{
		id:          gonanoid.Must(),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		hub:         hub,
		userID:      userID,
		username:    username,
		connectedAt: now,
		lastSeen:    now,
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	if hub != nil {
		c.logger = hub.logger
	}
	c.logger = c.logger.With(zap.String("conn_id", c.id), zap.String("user_id", userID))
	return c
}

// ID returns the server-assigned connection id
func (c *Client) ID() string {
	return c.id
}

// GetUserID returns the user ID
func (c *Client) GetUserID() string {
	return c.userID
}

// GetUsername returns the username
func (c *Client) GetUsername() string {
	return c.username
}

func (c *Client) SetRemoteAddr(addr string) {
	c.remoteAddr = addr
}

func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// UpdateLastSeen updates the last seen timestamp
func (c *Client) UpdateLastSeen() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Send enqueues a serialized frame without blocking.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// SendMessage serializes and enqueues a WebSocket message
func (c *Client) SendMessage(message chat.WebSocketMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return c.Send(data)
}

// ReadPump pumps messages from the websocket connection to the processor.
// Frames are handled one at a time in arrival order. When the connection
// ends the client is unregistered from the hub.
func (c *Client) ReadPump(processor MessageProcessor) {
	defer func() {
		if c.hub != nil {
			c.hub.Unregister(c)
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.UpdateLastSeen()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.UpdateLastSeen()
		processor.HandleMessage(c, data)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

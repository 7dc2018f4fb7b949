package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"realty-chat/internal/audit"
	"realty-chat/internal/presence"
	"realty-chat/pkg/chat"
)

// storeTimeout bounds store calls made outside a request context.
const storeTimeout = 5 * time.Second

// Bus carries frames to connections held by other nodes.
type Bus interface {
	Publish(ctx context.Context, connID string, data []byte) error
	Subscribe(connID string, deliver func([]byte)) (func() error, error)
}

// Recorder persists presence changes. Failures never affect delivery.
type Recorder interface {
	LogConnect(userID, connID, username, remoteAddr string) error
	LogDisconnect(userID, connID string, roomsLeft []string) error
	LogJoinConversation(userID, connID, conversationID string) error
	LogLeaveConversation(userID, connID, conversationID string) error
	LogNotification(action, conversationID string, userIDs []string, connections int) error
}

// Notifier pushes server-originated events straight to the live connections
// of the given users, regardless of room membership. Offline users are
// skipped. Both calls return the number of connections reached.
type Notifier interface {
	NotifyNewConversation(ctx context.Context, userIDs []string, conversation any) int
	NotifyConversationDeleted(ctx context.Context, conversationID string, userIDs []string) int
}

type Options struct {
	Registry   presence.Registry
	Membership presence.Membership
	Bus        Bus
	Recorder   Recorder
	Logger     *zap.Logger
	NodeName   string
}

type Hub struct {
	registry presence.Registry
	rooms    presence.Membership
	bus      Bus
	recorder Recorder
	logger   *zap.Logger
	node     string

	clients map[string]*Client
	unsubs  map[string]func() error
	mu      sync.RWMutex

	users *userLocks
}

var _ Notifier = (*Hub)(nil)

func NewHub(opts Options) *Hub {
	h := &Hub{
		registry: opts.Registry,
		rooms:    opts.Membership,
		bus:      opts.Bus,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		node:     opts.NodeName,
		clients:  make(map[string]*Client),
		unsubs:   make(map[string]func() error),
		users:    newUserLocks(),
	}
	if h.registry == nil {
		h.registry = presence.NewMemoryRegistry()
	}
	if h.rooms == nil {
		h.rooms = presence.NewMemoryMembership()
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Register binds a freshly authenticated client to its identity and makes it
// reachable locally and, when a bus is configured, from other nodes.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	unlock := h.users.lock(client.userID)
	if err := h.registry.Register(ctx, client.userID, client.id); err != nil {
		unlock()
		return errors.Wrapf(err, "register connection %s", client.id)
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	unlock()

	if h.bus != nil {
		unsub, err := h.bus.Subscribe(client.id, func(data []byte) {
			if err := client.Send(data); err != nil {
				client.logger.Warn("dropped bus delivery", zap.Error(err))
			}
		})
		if err != nil {
			h.logger.Warn("bus subscribe failed", zap.String("conn_id", client.id), zap.Error(err))
		} else {
			h.mu.Lock()
			h.unsubs[client.id] = unsub
			h.mu.Unlock()
		}
	}

	h.record(func(r Recorder) error {
		return r.LogConnect(client.userID, client.id, client.username, client.remoteAddr)
	})
	h.logger.Info("client connected",
		zap.String("conn_id", client.id),
		zap.String("user_id", client.userID),
		zap.String("remote_addr", client.remoteAddr))
	return nil
}

// Unregister tears a connection down. The identity is swept from every room
// once its last connection is gone. Unknown or already removed clients are
// ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if h.clients[client.id] != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	unsub := h.unsubs[client.id]
	delete(h.unsubs, client.id)
	h.mu.Unlock()

	client.Close()

	if unsub != nil {
		if err := unsub(); err != nil {
			h.logger.Warn("bus unsubscribe failed", zap.String("conn_id", client.id), zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	unlock := h.users.lock(client.userID)
	if _, err := h.registry.Unregister(ctx, client.id); err != nil {
		h.logger.Error("unregister connection failed", zap.String("conn_id", client.id), zap.Error(err))
	}
	left, swept, err := h.sweepIfOffline(ctx, client.userID)
	unlock()
	if err != nil {
		h.logger.Error("room sweep failed", zap.String("user_id", client.userID), zap.Error(err))
	}

	h.record(func(r Recorder) error {
		return r.LogDisconnect(client.userID, client.id, left)
	})
	h.logger.Info("client disconnected",
		zap.String("conn_id", client.id),
		zap.String("user_id", client.userID),
		zap.Strings("rooms_left", left),
		zap.Bool("last_connection", swept))
}

// sweepIfOffline removes userID from every room when it has no live
// connection left. Callers hold the user's lock.
func (h *Hub) sweepIfOffline(ctx context.Context, userID string) ([]string, bool, error) {
	if sweeper, ok := h.rooms.(presence.OfflineSweeper); ok {
		return sweeper.LeaveAllIfOffline(ctx, userID)
	}

	remaining, err := h.registry.Lookup(ctx, userID)
	if err != nil {
		return nil, false, errors.Wrap(err, "lookup after disconnect")
	}
	if len(remaining) > 0 {
		return nil, false, nil
	}
	left, err := h.rooms.LeaveAll(ctx, userID)
	if err != nil {
		return nil, false, errors.Wrap(err, "leave all")
	}
	return left, true, nil
}

// Recover drops registrations a previous run of this node left in a shared
// registry and sweeps the users that have no connection left anywhere. It
// must run before the node accepts handshakes. Registries that live in
// process memory have nothing to recover.
func (h *Hub) Recover(ctx context.Context) error {
	purger, ok := h.registry.(presence.NodePurger)
	if !ok {
		return nil
	}

	users, err := purger.PurgeNode(ctx)
	if err != nil {
		return errors.Wrap(err, "recover registrations")
	}

	for _, userID := range users {
		unlock := h.users.lock(userID)
		left, _, err := h.sweepIfOffline(ctx, userID)
		unlock()
		if err != nil {
			return errors.Wrapf(err, "recover %s", userID)
		}
		h.logger.Info("dropped stale registrations",
			zap.String("user_id", userID),
			zap.Strings("rooms_left", left))
	}
	return nil
}

// Join adds the client's identity to a conversation room.
func (h *Hub) Join(ctx context.Context, client *Client, conversationID string) error {
	unlock := h.users.lock(client.userID)
	defer unlock()

	if err := h.rooms.Join(ctx, conversationID, client.userID); err != nil {
		return errors.Wrapf(err, "join %s", conversationID)
	}
	h.record(func(r Recorder) error {
		return r.LogJoinConversation(client.userID, client.id, conversationID)
	})
	return nil
}

// Leave removes the client's identity from a conversation room.
func (h *Hub) Leave(ctx context.Context, client *Client, conversationID string) error {
	unlock := h.users.lock(client.userID)
	defer unlock()

	if err := h.rooms.Leave(ctx, conversationID, client.userID); err != nil {
		return errors.Wrapf(err, "leave %s", conversationID)
	}
	h.record(func(r Recorder) error {
		return r.LogLeaveConversation(client.userID, client.id, conversationID)
	})
	return nil
}

// BroadcastToConversation delivers message to every live connection of every
// room member except exclude. It returns the number of connections reached.
func (h *Hub) BroadcastToConversation(ctx context.Context, conversationID string, message chat.WebSocketMessage, exclude *Client) int {
	members, err := h.rooms.Members(ctx, conversationID)
	if err != nil {
		h.logger.Error("members lookup failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return 0
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal broadcast failed", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, userID := range members {
		delivered += h.deliverToUser(ctx, userID, data, exclude)
	}
	h.logger.Debug("broadcast",
		zap.String("conversation_id", conversationID),
		zap.String("type", string(message.Type)),
		zap.Int("members", len(members)),
		zap.Int("delivered", delivered))
	return delivered
}

func (h *Hub) NotifyNewConversation(ctx context.Context, userIDs []string, conversation any) int {
	message := chat.NewWebSocketMessage(chat.MessageTypeNewConversation, conversation)
	return h.notify(ctx, audit.ActionNotifyConversationCreated, conversationIDOf(conversation), userIDs, message)
}

func (h *Hub) NotifyConversationDeleted(ctx context.Context, conversationID string, userIDs []string) int {
	message := chat.NewWebSocketMessage(chat.MessageTypeConversationDeleted,
		chat.ConversationDeletedPayload{ConversationID: conversationID})
	return h.notify(ctx, audit.ActionNotifyConversationDeleted, conversationID, userIDs, message)
}

func (h *Hub) notify(ctx context.Context, action, conversationID string, userIDs []string, message chat.WebSocketMessage) int {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal notification failed", zap.Error(err))
		return 0
	}

	seen := make(map[string]bool, len(userIDs))
	reached := make([]string, 0, len(userIDs))
	delivered := 0
	for _, userID := range userIDs {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		if n := h.deliverToUser(ctx, userID, data, nil); n > 0 {
			delivered += n
			reached = append(reached, userID)
		}
	}

	if len(reached) > 0 {
		h.record(func(r Recorder) error {
			return r.LogNotification(action, conversationID, reached, delivered)
		})
	}
	h.logger.Debug("notification",
		zap.String("type", string(message.Type)),
		zap.String("conversation_id", conversationID),
		zap.Int("targets", len(seen)),
		zap.Int("delivered", delivered))
	return delivered
}

func (h *Hub) deliverToUser(ctx context.Context, userID string, data []byte, exclude *Client) int {
	connIDs, err := h.registry.Lookup(ctx, userID)
	if err != nil {
		h.logger.Error("registry lookup failed", zap.String("user_id", userID), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, connID := range connIDs {
		if exclude != nil && connID == exclude.id {
			continue
		}
		if h.deliver(ctx, connID, data) {
			delivered++
		}
	}
	return delivered
}

// deliver hands a frame to a local connection, or to the bus when the
// connection lives elsewhere.
func (h *Hub) deliver(ctx context.Context, connID string, data []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()

	if ok {
		if err := client.Send(data); err != nil {
			client.logger.Warn("dropped delivery", zap.Error(err))
			return false
		}
		return true
	}

	if h.bus == nil {
		h.logger.Debug("skipping stale connection", zap.String("conn_id", connID))
		return false
	}
	if err := h.bus.Publish(ctx, connID, data); err != nil {
		h.logger.Warn("bus publish failed", zap.String("conn_id", connID), zap.Error(err))
		return false
	}
	return true
}

func (h *Hub) record(fn func(Recorder) error) {
	if h.recorder == nil {
		return
	}
	if err := fn(h.recorder); err != nil {
		h.logger.Warn("audit write failed", zap.Error(err))
	}
}

// Connections returns the ids of userID's connections held by this node.
func (h *Hub) Connections(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0)
	for id, c := range h.clients {
		if c.userID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Lookup returns every live connection id of userID across all nodes.
func (h *Hub) Lookup(ctx context.Context, userID string) ([]string, error) {
	return h.registry.Lookup(ctx, userID)
}

// RoomsOf returns the conversations userID currently belongs to.
func (h *Hub) RoomsOf(ctx context.Context, userID string) ([]string, error) {
	return h.rooms.RoomsOf(ctx, userID)
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetUserCount returns the number of distinct identities connected locally.
func (h *Hub) GetUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make(map[string]struct{}, len(h.clients))
	for _, c := range h.clients {
		users[c.userID] = struct{}{}
	}
	return len(users)
}

func (h *Hub) NodeName() string {
	return h.node
}

// CloseAll closes every local connection. Each read pump then runs the
// regular disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

// conversationIDOf pulls an id out of an opaque conversation payload for the
// audit trail. Unknown shapes yield "".
func conversationIDOf(conversation any) string {
	var raw []byte
	switch v := conversation.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		raw = b
	}

	var ref struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ""
	}
	if ref.ConversationID != "" {
		return ref.ConversationID
	}
	return ref.ID
}

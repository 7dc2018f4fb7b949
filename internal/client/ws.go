// Package client is a small websocket client for the realtime server, used by
// the developer CLI and by end-to-end tests.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"realty-chat/pkg/chat"
)

// Event is one frame received from the server.
type Event struct {
	Type      chat.MessageType `json:"type"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type WSClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Dial opens a connection presenting token as a bearer credential. On a
// refused handshake the server response is returned alongside the error.
func Dial(ctx context.Context, url, token string) (*WSClient, *http.Response, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, errors.Wrapf(err, "dial %s", url)
	}

	return &WSClient{conn: conn}, resp, nil
}

// Send writes one event. Safe for concurrent use.
func (c *WSClient) Send(t chat.MessageType, data any) error {
	frame, err := json.Marshal(struct {
		Type chat.MessageType `json:"type"`
		Data any              `json:"data,omitempty"`
	}{Type: t, Data: data})
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return c.SendRaw(frame)
}

// SendRaw writes a frame as is.
func (c *WSClient) SendRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *WSClient) Join(conversationID string) error {
	return c.Send(chat.MessageTypeJoinConversation, chat.ConversationRef{ConversationID: conversationID})
}

func (c *WSClient) Leave(conversationID string) error {
	return c.Send(chat.MessageTypeLeaveConversation, chat.ConversationRef{ConversationID: conversationID})
}

func (c *WSClient) SendMessage(conversationID string, message any) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return c.Send(chat.MessageTypeNewMessage, chat.NewMessagePayload{ConversationID: conversationID, Message: raw})
}

func (c *WSClient) Typing(conversationID string, isTyping bool) error {
	return c.Send(chat.MessageTypeTyping, chat.TypingPayload{ConversationID: conversationID, IsTyping: isTyping})
}

func (c *WSClient) MarkRead(conversationID string, messageIDs []string) error {
	return c.Send(chat.MessageTypeMarkRead, chat.MarkReadPayload{ConversationID: conversationID, MessageIDs: messageIDs})
}

func (c *WSClient) Ping() error {
	return c.Send(chat.MessageTypePing, nil)
}

// Read blocks for the next event.
func (c *WSClient) Read() (Event, error) {
	var event Event
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, errors.Wrap(err, "decode event")
	}
	return event, nil
}

// ReadTimeout is Read with a deadline. A timeout leaves the connection
// unusable, so only use it where the connection is done afterwards.
func (c *WSClient) ReadTimeout(d time.Duration) (Event, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return Event{}, err
	}
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()
	return c.Read()
}

// Sync sends a ping and collects every event received before the matching
// pong. The server handles a connection's frames in order, so anything this
// connection caused before the ping has been relayed by the time it returns.
func (c *WSClient) Sync(timeout time.Duration) ([]Event, error) {
	if err := c.Ping(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	var events []Event
	for {
		event, err := c.ReadTimeout(time.Until(deadline))
		if err != nil {
			return events, err
		}
		if event.Type == chat.MessageTypePong {
			return events, nil
		}
		events = append(events, event)
	}
}

// Listen calls handle for every event until the connection closes or ctx is
// done.
func (c *WSClient) Listen(ctx context.Context, handle func(Event)) error {
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		event, err := c.Read()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		handle(event)
	}
}

// Close sends a close frame and closes the connection.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

package chat

import (
	"encoding/json"
	"time"
)

type MessageType string

// Inbound event types, sent by clients.
const (
	MessageTypeJoinConversation  MessageType = "join-conversation"
	MessageTypeLeaveConversation MessageType = "leave-conversation"
	MessageTypeNewMessage        MessageType = "new-message"
	MessageTypeTyping            MessageType = "typing"
	MessageTypeMarkRead          MessageType = "mark-read"
	MessageTypePing              MessageType = "ping"
)

// Outbound event types, sent by the server.
const (
	MessageTypeMessageReceived     MessageType = "message-received"
	MessageTypeUserTyping          MessageType = "user-typing"
	MessageTypeMessagesRead        MessageType = "messages-read"
	MessageTypeNewConversation     MessageType = "new-conversation"
	MessageTypeConversationDeleted MessageType = "conversation-deleted"
	MessageTypePong                MessageType = "pong"
	MessageTypeError               MessageType = "error"
)

// Error codes carried by ErrorPayload.
const (
	ErrorCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrorCodeUnknownEvent   = "UNKNOWN_EVENT"
)

// InboundMessage is the envelope of every frame a client sends. Data is decoded
// lazily once the type is known.
type InboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketMessage is the envelope of every frame the server sends.
type WebSocketMessage struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewWebSocketMessage(t MessageType, data any) WebSocketMessage {
	return WebSocketMessage{Type: t, Data: data, Timestamp: time.Now().UTC()}
}

// ConversationRef is the object form of the join/leave payload. Clients may
// also send the conversation id as a bare JSON string.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

type NewMessagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type MessageReceivedPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

type UserTypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagesReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadBy         string   `json:"readBy"`
}

type ConversationDeletedPayload struct {
	ConversationID string `json:"conversationId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

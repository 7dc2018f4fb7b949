package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"realty-chat/pkg/chat"
)

// handleTimeout bounds the store calls made for one inbound event.
const handleTimeout = 5 * time.Second

// MessageHandler relays inbound client events to room members.
type MessageHandler struct {
	hub    *Hub
	logger *zap.Logger
}

func NewMessageHandler(hub *Hub) *MessageHandler {
	return &MessageHandler{hub: hub, logger: hub.logger}
}

// HandleMessage decodes one frame and dispatches it by type. Malformed frames
// are answered with an error event to the sender only.
func (mh *MessageHandler) HandleMessage(client *Client, messageData []byte) {
	var inbound chat.InboundMessage
	if err := json.Unmarshal(messageData, &inbound); err != nil {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "malformed event", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch inbound.Type {
	case chat.MessageTypeJoinConversation:
		mh.handleJoinConversation(ctx, client, inbound.Data)
	case chat.MessageTypeLeaveConversation:
		mh.handleLeaveConversation(ctx, client, inbound.Data)
	case chat.MessageTypeNewMessage:
		mh.handleNewMessage(ctx, client, inbound.Data)
	case chat.MessageTypeTyping:
		mh.handleTyping(ctx, client, inbound.Data)
	case chat.MessageTypeMarkRead:
		mh.handleMarkRead(ctx, client, inbound.Data)
	case chat.MessageTypePing:
		mh.handlePing(client)
	default:
		mh.reject(client, chat.ErrorCodeUnknownEvent, "unknown event type: "+string(inbound.Type), nil)
	}
}

func (mh *MessageHandler) handleJoinConversation(ctx context.Context, client *Client, data json.RawMessage) {
	conversationID, ok := mh.conversationRef(client, data)
	if !ok {
		return
	}
	if err := mh.hub.Join(ctx, client, conversationID); err != nil {
		mh.logger.Error("join failed", zap.String("conn_id", client.id), zap.Error(err))
		return
	}
	mh.logger.Debug("joined conversation",
		zap.String("user_id", client.userID),
		zap.String("conversation_id", conversationID))
}

func (mh *MessageHandler) handleLeaveConversation(ctx context.Context, client *Client, data json.RawMessage) {
	conversationID, ok := mh.conversationRef(client, data)
	if !ok {
		return
	}
	if err := mh.hub.Leave(ctx, client, conversationID); err != nil {
		mh.logger.Error("leave failed", zap.String("conn_id", client.id), zap.Error(err))
		return
	}
	mh.logger.Debug("left conversation",
		zap.String("user_id", client.userID),
		zap.String("conversation_id", conversationID))
}

func (mh *MessageHandler) handleNewMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var payload chat.NewMessagePayload
	if !mh.decode(client, data, &payload) {
		return
	}
	if payload.ConversationID == "" {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "conversationId is required", nil)
		return
	}
	if len(payload.Message) == 0 || string(payload.Message) == "null" {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "message is required", nil)
		return
	}

	message := chat.NewWebSocketMessage(chat.MessageTypeMessageReceived, chat.MessageReceivedPayload{
		ConversationID: payload.ConversationID,
		Message:        payload.Message,
	})
	mh.hub.BroadcastToConversation(ctx, payload.ConversationID, message, client)
}

func (mh *MessageHandler) handleTyping(ctx context.Context, client *Client, data json.RawMessage) {
	var payload chat.TypingPayload
	if !mh.decode(client, data, &payload) {
		return
	}
	if payload.ConversationID == "" {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "conversationId is required", nil)
		return
	}

	message := chat.NewWebSocketMessage(chat.MessageTypeUserTyping, chat.UserTypingPayload{
		ConversationID: payload.ConversationID,
		UserID:         client.userID,
		IsTyping:       payload.IsTyping,
	})
	mh.hub.BroadcastToConversation(ctx, payload.ConversationID, message, client)
}

func (mh *MessageHandler) handleMarkRead(ctx context.Context, client *Client, data json.RawMessage) {
	var payload chat.MarkReadPayload
	if !mh.decode(client, data, &payload) {
		return
	}
	if payload.ConversationID == "" {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "conversationId is required", nil)
		return
	}
	if payload.MessageIDs == nil {
		payload.MessageIDs = []string{}
	}

	message := chat.NewWebSocketMessage(chat.MessageTypeMessagesRead, chat.MessagesReadPayload{
		ConversationID: payload.ConversationID,
		MessageIDs:     payload.MessageIDs,
		ReadBy:         client.userID,
	})
	mh.hub.BroadcastToConversation(ctx, payload.ConversationID, message, client)
}

func (mh *MessageHandler) handlePing(client *Client) {
	if err := client.SendMessage(chat.NewWebSocketMessage(chat.MessageTypePong, nil)); err != nil {
		client.logger.Warn("pong dropped", zap.Error(err))
	}
}

// conversationRef accepts either a bare JSON string or {"conversationId": ...}.
func (mh *MessageHandler) conversationRef(client *Client, data json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(data)

	var conversationID string
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if !mh.decode(client, trimmed, &conversationID) {
			return "", false
		}
	} else {
		var ref chat.ConversationRef
		if !mh.decode(client, trimmed, &ref) {
			return "", false
		}
		conversationID = ref.ConversationID
	}

	if conversationID == "" {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "conversationId is required", nil)
		return "", false
	}
	return conversationID, true
}

func (mh *MessageHandler) decode(client *Client, data json.RawMessage, v any) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "missing event data", nil)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		mh.reject(client, chat.ErrorCodeInvalidPayload, "invalid event data", err)
		return false
	}
	return true
}

func (mh *MessageHandler) reject(client *Client, code, message string, cause error) {
	fields := []zap.Field{
		zap.String("conn_id", client.id),
		zap.String("user_id", client.userID),
		zap.String("code", code),
		zap.String("reason", message),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	mh.logger.Warn("rejected client event", fields...)

	reply := chat.NewWebSocketMessage(chat.MessageTypeError, chat.ErrorPayload{Code: code, Message: message})
	if err := client.SendMessage(reply); err != nil {
		client.logger.Warn("error reply dropped", zap.Error(err))
	}
}

package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realty-chat/pkg/chat"
)

type roomFixture struct {
	hub     *Hub
	handler *MessageHandler
	u1, u2  *Client
	u3      *Client
}

// newRoomFixture joins u1 and u2 to conv-42 through the handler. u3 is
// connected but never joins.
func newRoomFixture(t *testing.T) roomFixture {
	hub := newTestHub(t)
	f := roomFixture{
		hub:     hub,
		handler: NewMessageHandler(hub),
		u1:      connect(t, hub, "u1"),
		u2:      connect(t, hub, "u2"),
		u3:      connect(t, hub, "u3"),
	}
	f.handler.HandleMessage(f.u1, []byte(`{"type":"join-conversation","data":"conv-42"}`))
	f.handler.HandleMessage(f.u2, []byte(`{"type":"join-conversation","data":{"conversationId":"conv-42"}}`))
	return f
}

func errorCode(t *testing.T, frame received) string {
	t.Helper()
	require.Equal(t, chat.MessageTypeError, frame.Type)
	var payload chat.ErrorPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	return payload.Code
}

func TestMessageHandler_Join(t *testing.T) {
	f := newRoomFixture(t)

	members, err := f.hub.rooms.Members(context.Background(), "conv-42")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, members)
	assert.Empty(t, drain(t, f.u1))
	assert.Empty(t, drain(t, f.u2))
}

func TestMessageHandler_Leave(t *testing.T) {
	f := newRoomFixture(t)

	f.handler.HandleMessage(f.u2, []byte(`{"type":"leave-conversation","data":"conv-42"}`))
	f.handler.HandleMessage(f.u1, []byte(`{"type":"new-message","data":{"conversationId":"conv-42","message":{"text":"anyone?"}}}`))

	members, err := f.hub.rooms.Members(context.Background(), "conv-42")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)
	assert.Empty(t, drain(t, f.u2))
}

func TestMessageHandler_NewMessage(t *testing.T) {
	f := newRoomFixture(t)

	f.handler.HandleMessage(f.u1, []byte(`{"type":"new-message","data":{"conversationId":"conv-42","message":{"text":"hi"}}}`))

	frames := drain(t, f.u2)
	require.Len(t, frames, 1)
	assert.Equal(t, chat.MessageTypeMessageReceived, frames[0].Type)
	assert.JSONEq(t, `{"conversationId":"conv-42","message":{"text":"hi"}}`, string(frames[0].Data))

	assert.Empty(t, drain(t, f.u1))
	assert.Empty(t, drain(t, f.u3))
}

func TestMessageHandler_EveryOtherMemberReceivesExactlyOnce(t *testing.T) {
	f := newRoomFixture(t)
	f.handler.HandleMessage(f.u3, []byte(`{"type":"join-conversation","data":"conv-42"}`))

	f.handler.HandleMessage(f.u1, []byte(`{"type":"new-message","data":{"conversationId":"conv-42","message":{"id":"m1"}}}`))

	assert.Len(t, drain(t, f.u2), 1)
	assert.Len(t, drain(t, f.u3), 1)
	assert.Empty(t, drain(t, f.u1))
}

func TestMessageHandler_TypingUsesBoundIdentity(t *testing.T) {
	f := newRoomFixture(t)

	f.handler.HandleMessage(f.u1, []byte(`{"type":"typing","data":{"conversationId":"conv-42","isTyping":true,"userId":"spoofed"}}`))

	frames := drain(t, f.u2)
	require.Len(t, frames, 1)
	assert.Equal(t, chat.MessageTypeUserTyping, frames[0].Type)

	var payload chat.UserTypingPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, chat.UserTypingPayload{ConversationID: "conv-42", UserID: "u1", IsTyping: true}, payload)
	assert.Empty(t, drain(t, f.u1))
}

func TestMessageHandler_MarkRead(t *testing.T) {
	f := newRoomFixture(t)

	f.handler.HandleMessage(f.u2, []byte(`{"type":"mark-read","data":{"conversationId":"conv-42","messageIds":["m1","m2"],"readBy":"spoofed"}}`))

	frames := drain(t, f.u1)
	require.Len(t, frames, 1)
	assert.Equal(t, chat.MessageTypeMessagesRead, frames[0].Type)
	assert.JSONEq(t, `{"conversationId":"conv-42","messageIds":["m1","m2"],"readBy":"u2"}`, string(frames[0].Data))
	assert.Empty(t, drain(t, f.u2))
}

func TestMessageHandler_Ping(t *testing.T) {
	f := newRoomFixture(t)

	f.handler.HandleMessage(f.u1, []byte(`{"type":"ping"}`))

	frames := drain(t, f.u1)
	require.Len(t, frames, 1)
	assert.Equal(t, chat.MessageTypePong, frames[0].Type)
	assert.Empty(t, drain(t, f.u2))
}

func TestMessageHandler_RejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantCode string
	}{
		{name: "not json", frame: `hello`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "unknown type", frame: `{"type":"shout","data":{}}`, wantCode: chat.ErrorCodeUnknownEvent},
		{name: "missing type", frame: `{"data":{}}`, wantCode: chat.ErrorCodeUnknownEvent},
		{name: "join without data", frame: `{"type":"join-conversation"}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "join empty id", frame: `{"type":"join-conversation","data":""}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "join wrong shape", frame: `{"type":"join-conversation","data":42}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "message without conversation", frame: `{"type":"new-message","data":{"message":{}}}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "message without body", frame: `{"type":"new-message","data":{"conversationId":"conv-42"}}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "message with null body", frame: `{"type":"new-message","data":{"conversationId":"conv-42","message":null}}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "typing wrong field type", frame: `{"type":"typing","data":{"conversationId":"conv-42","isTyping":"yes"}}`, wantCode: chat.ErrorCodeInvalidPayload},
		{name: "mark read without conversation", frame: `{"type":"mark-read","data":{"messageIds":["m1"]}}`, wantCode: chat.ErrorCodeInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRoomFixture(t)

			assert.NotPanics(t, func() {
				f.handler.HandleMessage(f.u1, []byte(tt.frame))
			})

			frames := drain(t, f.u1)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.wantCode, errorCode(t, frames[0]))
			assert.Empty(t, drain(t, f.u2))
			assert.Equal(t, 3, f.hub.GetClientCount())
		})
	}
}

func TestMessageHandler_MarkReadWithoutIDs(t *testing.T) {
	f := newRoomFixture(t)

	f.handler.HandleMessage(f.u1, []byte(`{"type":"mark-read","data":{"conversationId":"conv-42"}}`))

	frames := drain(t, f.u2)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"conversationId":"conv-42","messageIds":[],"readBy":"u1"}`, string(frames[0].Data))
}

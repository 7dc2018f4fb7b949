package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realty-chat/pkg/chat"
)

// Mock WebSocket connection for testing
type MockConn struct {
	mock.Mock
}

func (m *MockConn) WriteMessage(messageType int, data []byte) error {
	args := m.Called(messageType, data)
	return args.Error(0)
}

func (m *MockConn) ReadMessage() (messageType int, p []byte, err error) {
	args := m.Called()
	return args.Int(0), args.Get(1).([]byte), args.Error(2)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockConn) SetReadDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockConn) SetWriteDeadline(t time.Time) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockConn) SetPongHandler(h func(string) error) {
	m.Called(h)
}

func (m *MockConn) SetReadLimit(limit int64) {
	m.Called(limit)
}

type recordingProcessor struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *recordingProcessor) HandleMessage(_ *Client, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, data)
}

func TestNewClient(t *testing.T) {
	client := NewClient(nil, &MockConn{}, "user123", "testuser")

	assert.NotNil(t, client)
	assert.NotEmpty(t, client.ID())
	assert.Equal(t, "user123", client.GetUserID())
	assert.Equal(t, "testuser", client.GetUsername())
	assert.Equal(t, sendBufferSize, cap(client.send))
	assert.True(t, client.ConnectedAt().Before(time.Now().Add(time.Second)))
}

func TestNewClient_UniqueIDs(t *testing.T) {
	a := NewClient(nil, nil, "u", "u")
	b := NewClient(nil, nil, "u", "u")

	assert.NotEqual(t, a.ID(), b.ID())
}

func TestClient_UpdateLastSeen(t *testing.T) {
	client := NewClient(nil, &MockConn{}, "user123", "testuser")
	initialTime := client.LastSeen()

	time.Sleep(10 * time.Millisecond)
	client.UpdateLastSeen()

	assert.True(t, client.LastSeen().After(initialTime))
}

func TestClient_SendMessage(t *testing.T) {
	client := NewClient(nil, &MockConn{}, "user123", "testuser")

	message := chat.NewWebSocketMessage(chat.MessageTypeUserTyping, chat.UserTypingPayload{
		ConversationID: "conv-1",
		UserID:         "user456",
		IsTyping:       true,
	})

	require.NoError(t, client.SendMessage(message))
	frames := drain(t, client)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"conversationId":"conv-1","userId":"user456","isTyping":true}`, string(frames[0].Data))
}

func TestClient_SendWhenFull(t *testing.T) {
	client := NewClient(nil, nil, "u", "u")

	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, client.Send([]byte("x")))
	}
	assert.ErrorIs(t, client.Send([]byte("x")), ErrSendBufferFull)
}

func TestClient_SendAfterClose(t *testing.T) {
	client := NewClient(nil, nil, "u", "u")

	client.Close()
	client.Close()

	assert.ErrorIs(t, client.Send([]byte("x")), ErrClientClosed)
}

func TestClient_ReadPump(t *testing.T) {
	hub := newTestHub(t)
	conn := &MockConn{}
	client := NewClient(hub, conn, "u1", "alice")
	require.NoError(t, hub.Register(context.Background(), client))

	conn.On("SetReadLimit", int64(maxMessageSize)).Return()
	conn.On("SetReadDeadline", mock.Anything).Return(nil)
	conn.On("SetPongHandler", mock.Anything).Return()
	conn.On("ReadMessage").Return(websocket.TextMessage, []byte(`first`), nil).Once()
	conn.On("ReadMessage").Return(websocket.TextMessage, []byte(`second`), nil).Once()
	conn.On("ReadMessage").Return(0, []byte(nil), &websocket.CloseError{Code: websocket.CloseNormalClosure}).Once()

	processor := &recordingProcessor{}
	client.ReadPump(processor)

	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, processor.frames)
	assert.Equal(t, 0, hub.GetClientCount())
	select {
	case <-client.Done():
	default:
		t.Fatal("client not closed after read pump exit")
	}
	conn.AssertExpectations(t)
}

func TestClient_WritePump(t *testing.T) {
	conn := &MockConn{}
	client := NewClient(nil, conn, "u1", "alice")

	written := make(chan []byte, 1)
	conn.On("SetWriteDeadline", mock.Anything).Return(nil)
	conn.On("WriteMessage", websocket.TextMessage, mock.Anything).
		Run(func(args mock.Arguments) { written <- args.Get(1).([]byte) }).
		Return(nil)
	conn.On("WriteMessage", websocket.CloseMessage, mock.Anything).Return(nil)
	conn.On("Close").Return(nil)

	exited := make(chan struct{})
	go func() {
		client.WritePump()
		close(exited)
	}()

	require.NoError(t, client.Send([]byte(`{"type":"pong"}`)))
	select {
	case data := <-written:
		assert.Equal(t, `{"type":"pong"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("frame not written")
	}

	client.Close()
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("write pump did not exit")
	}
	conn.AssertCalled(t, "WriteMessage", websocket.CloseMessage, mock.Anything)
	conn.AssertCalled(t, "Close")
}

func TestClient_WritePumpStopsOnWriteError(t *testing.T) {
	conn := &MockConn{}
	client := NewClient(nil, conn, "u1", "alice")

	conn.On("SetWriteDeadline", mock.Anything).Return(nil)
	conn.On("WriteMessage", websocket.TextMessage, mock.Anything).Return(assert.AnError)
	conn.On("Close").Return(nil)

	require.NoError(t, client.Send([]byte("x")))

	exited := make(chan struct{})
	go func() {
		client.WritePump()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("write pump did not exit")
	}
	conn.AssertCalled(t, "Close")
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no allow list", origin: "https://evil.example", want: true},
		{name: "allowed origin", allowed: []string{"https://app.example"}, origin: "https://app.example", want: true},
		{name: "foreign origin", allowed: []string{"https://app.example"}, origin: "https://evil.example", want: false},
		{name: "no origin header", allowed: []string{"https://app.example"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, NewUpgrader(tt.allowed).CheckOrigin(req))
		})
	}
}

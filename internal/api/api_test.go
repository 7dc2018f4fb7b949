package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"realty-chat/internal/audit"
	"realty-chat/internal/auth"
	"realty-chat/internal/client"
	"realty-chat/internal/middleware"
	"realty-chat/internal/presence"
	"realty-chat/internal/storage"
	"realty-chat/internal/websocket"
)

const (
	testSecret     = "test-secret-key-for-testing"
	testServiceKey = "svc-key"
)

// serviceKeyHash is computed once; bcrypt is slow on purpose.
var serviceKeyHash string

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	hash, err := auth.HashServiceKey(testServiceKey)
	if err != nil {
		panic(err)
	}
	serviceKeyHash = hash

	os.Exit(m.Run())
}

type testEnv struct {
	hub        *websocket.Hub
	registry   *presence.MemoryRegistry
	membership *presence.MemoryMembership
	tokens     *auth.TokenService
	db         *gorm.DB
	engine     *gin.Engine
	server     *httptest.Server
}

type envOption func(*Dependencies)

func withHandshakeLimit(cfg middleware.RateLimitConfig) envOption {
	return func(d *Dependencies) { d.HandshakeLimit = cfg }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db, err := storage.Connect(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	logger := zap.NewNop()
	env := &testEnv{
		registry:   presence.NewMemoryRegistry(),
		membership: presence.NewMemoryMembership(),
		tokens:     auth.NewTokenService(testSecret, time.Hour),
		db:         db,
	}
	auditService := audit.NewAuditService(db)
	env.hub = websocket.NewHub(websocket.Options{
		Registry:   env.registry,
		Membership: env.membership,
		Recorder:   auditService,
		Logger:     logger,
		NodeName:   "test-node",
	})

	deps := Dependencies{
		Hub:            env.hub,
		Gate:           auth.NewGate(env.tokens),
		Audit:          auditService,
		ServiceKeyHash: serviceKeyHash,
		HandshakeLimit: middleware.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		Logger:         logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router := NewRouter(deps)
	env.engine = NewEngine(logger)
	router.RegisterRoutes(env.engine)

	env.server = httptest.NewServer(env.engine)
	t.Cleanup(func() {
		env.hub.CloseAll()
		env.server.Close()
		router.Close()
	})
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.tokens.GenerateToken(userID, userID+"-name")
	require.NoError(t, err)
	return token
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

// dial connects as userID and waits until the hub has registered the
// connection.
func (e *testEnv) dial(t *testing.T, userID string) *client.WSClient {
	t.Helper()

	before := len(e.hub.Connections(userID))
	c, _, err := client.Dial(context.Background(), e.wsURL(), e.token(t, userID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, func() bool {
		return len(e.hub.Connections(userID)) == before+1
	}, 2*time.Second, 5*time.Millisecond)
	return c
}

func (e *testEnv) request(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func serviceHeader() http.Header {
	return http.Header{auth.ServiceKeyHeader: []string{testServiceKey}}
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

// syncEvents waits for every frame c sent so far to be handled and returns the
// events received in the meantime.
func syncEvents(t *testing.T, c *client.WSClient) []client.Event {
	t.Helper()
	events, err := c.Sync(2 * time.Second)
	require.NoError(t, err)
	return events
}

func members(t *testing.T, e *testEnv, conversationID string) []string {
	t.Helper()
	m, err := e.membership.Members(context.Background(), conversationID)
	require.NoError(t, err)
	return m
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realty-chat/internal/auth"
	"realty-chat/internal/websocket"
)

type WebSocketHandler struct {
	hub      *websocket.Hub
	relay    *websocket.MessageHandler
	gate     *auth.Gate
	upgrader *ws.Upgrader
	logger   *zap.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, gate *auth.Gate, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		relay:    websocket.NewMessageHandler(hub),
		gate:     gate,
		upgrader: websocket.NewUpgrader(allowedOrigins),
		logger:   logger,
	}
}

// HandleWebSocket authenticates the handshake and upgrades it. Refused
// attempts get a 401 before any upgrade and leave no state behind.
// @Summary WebSocket connection endpoint
// @Description Upgrade HTTP connection to WebSocket for real-time conversation events
// @Tags websocket
// @Security Bearer
// @Param token query string false "Credential, when no Authorization header can be set"
// @Success 101 {string} string "Switching Protocols"
// @Failure 401 {object} ErrorResponse "no credential provided | invalid credential"
// @Failure 429 {object} ErrorResponse "Rate limit exceeded"
// @Router /ws [get]
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	identity, err := h.gate.Authenticate(c.Request)
	if err != nil {
		h.logger.Warn("handshake refused",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: auth.RefusalMessage(err)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already answered the request
		h.logger.Warn("upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}

	client := websocket.NewClient(h.hub, conn, identity.UserID, identity.Username)
	client.SetRemoteAddr(c.ClientIP())

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.hub.Register(ctx, client); err != nil {
		h.logger.Error("register failed", zap.String("user_id", identity.UserID), zap.Error(err))
		_ = conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseInternalServerErr, "registration failed"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(h.relay)
}

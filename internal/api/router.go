package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	a "realty-chat/internal/auth"
	"realty-chat/internal/middleware"
	"realty-chat/internal/websocket"
)

type ErrorResponse struct {
	Error string `json:"error" example:"invalid credential"`
}

// Dependencies wires the router. Audit may be nil when no database is
// configured; an empty ServiceKeyHash disables the /internal group.
type Dependencies struct {
	Hub            *websocket.Hub
	Gate           *a.Gate
	Audit          AuditQuerier
	ServiceKeyHash string
	AllowedOrigins []string
	HandshakeLimit middleware.RateLimitConfig
	Logger         *zap.Logger
}

type Router struct {
	ws       *WebSocketHandler
	notify   *NotifyHandlers
	presence *PresenceHandlers
	audit    *AuditHandlers
	am       *a.AuthMiddleware
	limiter  *middleware.IPRateLimiter

	serviceKeyHash string
	logger         *zap.Logger
}

func NewRouter(deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		ws:             NewWebSocketHandler(deps.Hub, deps.Gate, deps.AllowedOrigins, logger),
		notify:         NewNotifyHandlers(deps.Hub, logger),
		presence:       NewPresenceHandlers(deps.Hub, logger),
		am:             a.NewAuthMiddleware(deps.Gate),
		limiter:        middleware.NewIPRateLimiter(deps.HandshakeLimit),
		serviceKeyHash: deps.ServiceKeyHash,
		logger:         logger,
	}
	if deps.Audit != nil {
		r.audit = NewAuditHandlers(deps.Audit, logger)
	}
	return r
}

// NewEngine returns a gin engine with the process middlewares installed.
func NewEngine(logger *zap.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestLogger(logger), middleware.Recovery(logger))
	return engine
}

func (r *Router) RegisterRoutes(router *gin.Engine) {
	{
		unprotected := router.Group("/")
		unprotected.GET("/hc", HealthCheckHandler)
		unprotected.GET("/ws", middleware.RateLimitMiddleware(r.limiter, r.logger), r.ws.HandleWebSocket)
	}

	{
		protected := router.Group("/api")
		protected.Use(r.am.RequireAuth())
		protected.GET("/presence", r.presence.GetPresenceHandler)
	}

	if r.serviceKeyHash == "" {
		r.logger.Warn("no service key configured, internal endpoints disabled")
		return
	}

	{
		internal := router.Group("/internal")
		internal.Use(a.RequireServiceKey(r.serviceKeyHash))
		internal.POST("/notify/conversation-created", r.notify.ConversationCreatedHandler)
		internal.POST("/notify/conversation-deleted", r.notify.ConversationDeletedHandler)
		internal.GET("/stats", r.presence.GetStatsHandler)
		if r.audit != nil {
			internal.GET("/audit", r.audit.GetAuditLogsHandler)
		}
	}
}

// Close releases the handshake limiter.
func (r *Router) Close() {
	r.limiter.Stop()
}

func HealthCheckHandler(c *gin.Context) {
	c.String(http.StatusOK, "Running")
}

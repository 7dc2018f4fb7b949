package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realty-chat/internal/auth"
	"realty-chat/internal/websocket"
)

type PresenceHandlers struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

func NewPresenceHandlers(hub *websocket.Hub, logger *zap.Logger) *PresenceHandlers {
	return &PresenceHandlers{hub: hub, logger: logger}
}

type PresenceResponse struct {
	UserID           string   `json:"user_id" example:"u1"`
	Connections      int      `json:"connections" example:"2"`
	LocalConnections int      `json:"local_connections" example:"1"`
	Conversations    []string `json:"conversations"`
}

type StatsResponse struct {
	Connections int    `json:"connections" example:"42"`
	Users       int    `json:"users" example:"30"`
	Node        string `json:"node" example:"rt-1"`
}

// GetPresenceHandler reports the caller's live connections, on every node and
// on this one, and rooms
// @Summary Get own presence
// @Tags presence
// @Produce json
// @Security Bearer
// @Success 200 {object} PresenceResponse
// @Failure 401 {object} ErrorResponse "no credential provided | invalid credential"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /api/presence [get]
func (h *PresenceHandlers) GetPresenceHandler(c *gin.Context) {
	userID := c.GetString(auth.ContextUserID)

	conns, err := h.hub.Lookup(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve presence"})
		return
	}

	rooms, err := h.hub.RoomsOf(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("rooms lookup failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve presence"})
		return
	}
	if rooms == nil {
		rooms = []string{}
	}

	c.JSON(http.StatusOK, PresenceResponse{
		UserID:           userID,
		Connections:      len(conns),
		LocalConnections: len(h.hub.Connections(userID)),
		Conversations:    rooms,
	})
}

// GetStatsHandler reports this node's connection counts
// @Summary Get node stats
// @Tags internal
// @Produce json
// @Security ServiceKey
// @Success 200 {object} StatsResponse
// @Router /internal/stats [get]
func (h *PresenceHandlers) GetStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Connections: h.hub.GetClientCount(),
		Users:       h.hub.GetUserCount(),
		Node:        h.hub.NodeName(),
	})
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realty-chat/internal/websocket"
)

// NotifyHandlers expose the notifier to the REST layer running in another
// process.
type NotifyHandlers struct {
	notifier websocket.Notifier
	logger   *zap.Logger
}

func NewNotifyHandlers(notifier websocket.Notifier, logger *zap.Logger) *NotifyHandlers {
	return &NotifyHandlers{notifier: notifier, logger: logger}
}

type ConversationCreatedRequest struct {
	UserIDs      []string        `json:"userIds" binding:"required"`
	Conversation json.RawMessage `json:"conversation" binding:"required"`
}

type ConversationDeletedRequest struct {
	ConversationID string   `json:"conversationId" binding:"required"`
	UserIDs        []string `json:"userIds" binding:"required"`
}

type NotifyResponse struct {
	Delivered int `json:"delivered" example:"2"`
}

// ConversationCreatedHandler pushes new-conversation to the target users
// @Summary Notify users of a new conversation
// @Tags internal
// @Accept json
// @Produce json
// @Security ServiceKey
// @Param request body ConversationCreatedRequest true "Targets and conversation payload"
// @Success 202 {object} NotifyResponse
// @Failure 400 {object} ErrorResponse "Bad request"
// @Router /internal/notify/conversation-created [post]
func (h *NotifyHandlers) ConversationCreatedHandler(c *gin.Context) {
	var input ConversationCreatedRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if len(input.UserIDs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "userIds must not be empty"})
		return
	}

	delivered := h.notifier.NotifyNewConversation(c.Request.Context(), input.UserIDs, input.Conversation)
	h.logger.Info("conversation created notification",
		zap.Strings("user_ids", input.UserIDs),
		zap.Int("delivered", delivered))

	c.JSON(http.StatusAccepted, NotifyResponse{Delivered: delivered})
}

// ConversationDeletedHandler pushes conversation-deleted to the target users
// @Summary Notify users that a conversation was deleted
// @Tags internal
// @Accept json
// @Produce json
// @Security ServiceKey
// @Param request body ConversationDeletedRequest true "Conversation and targets"
// @Success 202 {object} NotifyResponse
// @Failure 400 {object} ErrorResponse "Bad request"
// @Router /internal/notify/conversation-deleted [post]
func (h *NotifyHandlers) ConversationDeletedHandler(c *gin.Context) {
	var input ConversationDeletedRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	delivered := h.notifier.NotifyConversationDeleted(c.Request.Context(), input.ConversationID, input.UserIDs)
	h.logger.Info("conversation deleted notification",
		zap.String("conversation_id", input.ConversationID),
		zap.Strings("user_ids", input.UserIDs),
		zap.Int("delivered", delivered))

	c.JSON(http.StatusAccepted, NotifyResponse{Delivered: delivered})
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realty-chat/internal/audit"
	. "realty-chat/pkg/chat"
)

// AuditQuerier reads the presence audit trail.
type AuditQuerier interface {
	GetAuditLogs(filter audit.Filter, limit, offset int) ([]AuditLog, int64, error)
}

type AuditHandlers struct {
	service AuditQuerier
	logger  *zap.Logger
}

func NewAuditHandlers(service AuditQuerier, logger *zap.Logger) *AuditHandlers {
	return &AuditHandlers{service: service, logger: logger}
}

type AuditLogResponse struct {
	ID             string         `json:"id" example:"V1StGXR8_Z5j"`
	Action         string         `json:"action" example:"JOIN_CONVERSATION"`
	UserID         string         `json:"user_id" example:"u1"`
	ConnectionID   string         `json:"connection_id" example:"k3Xa9..."`
	ConversationID *string        `json:"conversation_id" example:"conv-42"`
	Description    string         `json:"description" example:"Joined conversation conv-42"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      string         `json:"created_at" example:"2023-01-01T00:00:00Z"`
}

type AuditLogsResponse struct {
	Logs  []AuditLogResponse `json:"logs"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

// GetAuditLogsHandler gets audit logs with filtering options
// @Summary Get audit logs with filtering
// @Description Presence audit trail: connects, disconnects, joins, leaves and notifications
// @Tags internal
// @Produce json
// @Security ServiceKey
// @Param user_id query string false "Filter by user ID"
// @Param conversation_id query string false "Filter by conversation ID"
// @Param action query string false "Filter by action type"
// @Param page query int false "Page number (default: 1)"
// @Param limit query int false "Number of results per page (default: 20, max: 100)"
// @Success 200 {object} AuditLogsResponse "Audit logs retrieved successfully"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /internal/audit [get]
func (h *AuditHandlers) GetAuditLogsHandler(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := (page - 1) * limit

	filter := audit.Filter{
		UserID:         optionalQuery(c, "user_id"),
		ConversationID: optionalQuery(c, "conversation_id"),
		Action:         optionalQuery(c, "action"),
	}

	logs, total, err := h.service.GetAuditLogs(filter, limit, offset)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve audit logs"})
		return
	}

	auditLogs := make([]AuditLogResponse, 0, len(logs))
	for _, log := range logs {
		metadata := map[string]any{}
		if log.Metadata != "" {
			if err := json.Unmarshal([]byte(log.Metadata), &metadata); err != nil {
				metadata = map[string]any{}
			}
		}

		auditLogs = append(auditLogs, AuditLogResponse{
			ID:             log.ID,
			Action:         log.Action,
			UserID:         log.UserID,
			ConnectionID:   log.ConnectionID,
			ConversationID: log.ConversationID,
			Description:    log.Description,
			Metadata:       metadata,
			CreatedAt:      log.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, AuditLogsResponse{
		Logs:  auditLogs,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

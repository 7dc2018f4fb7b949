package audit

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	. "realty-chat/pkg/chat"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// Action constants for audit logging
const (
	ActionConnect                   = "CONNECT"
	ActionDisconnect                = "DISCONNECT"
	ActionJoinConversation          = "JOIN_CONVERSATION"
	ActionLeaveConversation         = "LEAVE_CONVERSATION"
	ActionNotifyConversationCreated = "NOTIFY_CONVERSATION_CREATED"
	ActionNotifyConversationDeleted = "NOTIFY_CONVERSATION_DELETED"
)

type AuditMetadata struct {
	Username    string   `json:"username,omitempty"`
	RemoteAddr  string   `json:"remote_addr,omitempty"`
	RoomsLeft   []string `json:"rooms_left,omitempty"`
	Recipients  []string `json:"recipients,omitempty"`
	Connections int      `json:"connections,omitempty"`
}

// Filter narrows GetAuditLogs. Nil fields are ignored.
type Filter struct {
	UserID         *string
	ConversationID *string
	Action         *string
}

func (s *AuditService) create(entry AuditLog, metadata AuditMetadata) error {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	entry.Metadata = string(metadataJSON)
	return s.db.Create(&entry).Error
}

// LogConnect logs an admitted connection
func (s *AuditService) LogConnect(userID, connID, username, remoteAddr string) error {
	return s.create(AuditLog{
		Action:       ActionConnect,
		UserID:       userID,
		ConnectionID: connID,
		Description:  "Connected",
	}, AuditMetadata{Username: username, RemoteAddr: remoteAddr})
}

// LogDisconnect logs a closed connection and the rooms it was swept from
func (s *AuditService) LogDisconnect(userID, connID string, roomsLeft []string) error {
	return s.create(AuditLog{
		Action:       ActionDisconnect,
		UserID:       userID,
		ConnectionID: connID,
		Description:  "Disconnected",
	}, AuditMetadata{RoomsLeft: roomsLeft})
}

func (s *AuditService) LogJoinConversation(userID, connID, conversationID string) error {
	return s.create(AuditLog{
		Action:         ActionJoinConversation,
		UserID:         userID,
		ConnectionID:   connID,
		ConversationID: &conversationID,
		Description:    "Joined conversation '" + conversationID + "'",
	}, AuditMetadata{})
}

func (s *AuditService) LogLeaveConversation(userID, connID, conversationID string) error {
	return s.create(AuditLog{
		Action:         ActionLeaveConversation,
		UserID:         userID,
		ConnectionID:   connID,
		ConversationID: &conversationID,
		Description:    "Left conversation '" + conversationID + "'",
	}, AuditMetadata{})
}

// LogNotification logs a server-initiated notification, one row per target
// user. An empty conversationID is stored as NULL.
func (s *AuditService) LogNotification(action, conversationID string, userIDs []string, connections int) error {
	var convID *string
	if conversationID != "" {
		convID = &conversationID
	}

	description := "Notified " + strings.Join(userIDs, ", ")
	return s.db.Transaction(func(tx *gorm.DB) error {
		scoped := &AuditService{db: tx}
		for _, userID := range userIDs {
			err := scoped.create(AuditLog{
				Action:         action,
				UserID:         userID,
				ConversationID: convID,
				Description:    description,
			}, AuditMetadata{Recipients: userIDs, Connections: connections})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAuditLogs retrieves audit logs with pagination and filtering, newest first
func (s *AuditService) GetAuditLogs(filter Filter, limit, offset int) ([]AuditLog, int64, error) {
	query := s.db.Model(&AuditLog{})

	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.ConversationID != nil {
		query = query.Where("conversation_id = ?", *filter.ConversationID)
	}
	if filter.Action != nil {
		query = query.Where("action = ?", *filter.Action)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []AuditLog
	err := query.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error

	return logs, total, err
}

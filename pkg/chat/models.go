package chat

import (
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"gorm.io/gorm"
)

// AuditLog records one presence transition of a user. Relayed messages are
// never stored here.
type AuditLog struct {
	ID             string  `gorm:"primaryKey;size:12"`
	Action         string  `gorm:"index;not null"`
	UserID         string  `gorm:"index;not null"`
	ConnectionID   string  `gorm:"index"`
	ConversationID *string `gorm:"index"`
	Description    string
	Metadata       string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID, err = nanoid.New(12)
	}
	return
}

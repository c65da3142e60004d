package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/enums"
)

// Notification is a user-facing message rendered from a domain event.
// UserID is nil when the recipient could not be resolved; StudentID then carries the addressee.
type Notification struct {
	ID                uuid.UUID                 `gorm:"type:uuid;primaryKey"`
	UserID            *uuid.UUID                `gorm:"type:uuid;index"`
	StudentID         *uuid.UUID                `gorm:"type:uuid;index"`
	Channel           enums.NotificationChannel `gorm:"type:text;not null"`
	Title             string                    `gorm:"type:text;not null"`
	Content           string                    `gorm:"type:text;not null"`
	RelatedObjectType string                    `gorm:"type:text"`
	RelatedObjectID   string                    `gorm:"type:text"`
	Status            enums.NotificationStatus  `gorm:"type:text;not null;default:'pending'"`
	Attempts          int                       `gorm:"not null;default:0"`
	LastError         *string                   `gorm:"type:text"`
	Degraded          bool                      `gorm:"not null;default:false"`
	DedupeKey         string                    `gorm:"type:text;not null;uniqueIndex:notifications_dedupe_key_key"`
	SourceEventID     string                    `gorm:"type:text"`
	Metadata          json.RawMessage           `gorm:"type:jsonb"`
	SentAt            *time.Time
	ReadAt            *time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	assignID(&n.ID)
	return nil
}

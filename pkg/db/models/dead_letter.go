package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/enums"
)

// DeadLetter captures messages a consumer gave up on, for auditing and manual replay.
type DeadLetter struct {
	ID              uuid.UUID              `gorm:"type:uuid;primaryKey"`
	Queue           string                 `gorm:"type:text;not null;index"`
	EventID         string                 `gorm:"type:text;index"`
	EventType       string                 `gorm:"type:text"`
	CorrelationID   string                 `gorm:"type:text"`
	Body            []byte                 `gorm:"type:bytea;not null"`
	Reason          enums.DeadLetterReason `gorm:"type:text;not null"`
	ErrorMessage    *string                `gorm:"type:text"`
	RedeliveryCount int                    `gorm:"not null;default:0"`
	FailedAt        time.Time              `gorm:"not null"`
	CreatedAt       time.Time              `gorm:"autoCreateTime"`
}

func (d *DeadLetter) BeforeCreate(*gorm.DB) error {
	assignID(&d.ID)
	if d.FailedAt.IsZero() {
		d.FailedAt = time.Now().UTC()
	}
	return nil
}

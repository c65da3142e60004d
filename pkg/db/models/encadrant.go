package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Encadrant is the supervisor profile provisioned for users with the encadrant role.
type Encadrant struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:encadrants_user_id_key"`
	Email     string          `gorm:"type:text;not null"`
	FirstName string          `gorm:"type:text"`
	LastName  string          `gorm:"type:text"`
	Phone     string          `gorm:"type:text"`
	Metadata  json.RawMessage `gorm:"type:jsonb"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (e *Encadrant) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}

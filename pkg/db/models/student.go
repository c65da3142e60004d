package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Student is the profile auto-provisioned for users registered with the student role.
type Student struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:students_user_id_key"`
	CIN       string          `gorm:"column:cin;type:text;not null"`
	Email     string          `gorm:"type:text;not null"`
	FirstName string          `gorm:"type:text"`
	LastName  string          `gorm:"type:text"`
	Phone     string          `gorm:"type:text"`
	Metadata  json.RawMessage `gorm:"type:jsonb"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (s *Student) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

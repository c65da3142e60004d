package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Affectation links an accepted application to the student and offer it placed.
type Affectation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	ApplicationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:affectations_application_id_key"`
	StudentID     uuid.UUID `gorm:"type:uuid;not null;index"`
	OfferID       uuid.UUID `gorm:"type:uuid;not null;index"`
	OfferTitle    string    `gorm:"type:text"`
	SourceEventID string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (a *Affectation) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}

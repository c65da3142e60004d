package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/enums"
)

// Offer is the core-service view of an internship offer needed to decide applications.
type Offer struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title     string    `gorm:"type:text;not null"`
	Status    string    `gorm:"type:text;not null;default:'draft'"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (o *Offer) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// Application is a student's candidacy for an offer.
type Application struct {
	ID         uuid.UUID               `gorm:"type:uuid;primaryKey"`
	StudentID  uuid.UUID               `gorm:"type:uuid;not null;index"`
	OfferID    uuid.UUID               `gorm:"type:uuid;not null;index"`
	Offer      *Offer                  `gorm:"foreignKey:OfferID"`
	Status     enums.ApplicationStatus `gorm:"type:text;not null;default:'pending'"`
	DecisionBy *uuid.UUID              `gorm:"type:uuid"`
	DecisionAt *time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (a *Application) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}

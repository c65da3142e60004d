package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AttendanceSummary aggregates a student's presence for one offer.
type AttendanceSummary struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	StudentID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:attendance_summaries_student_offer_key,priority:1"`
	OfferID       uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:attendance_summaries_student_offer_key,priority:2"`
	AffectationID *uuid.UUID      `gorm:"type:uuid"`
	TotalDays     int             `gorm:"not null;default:0"`
	PresentDays   int             `gorm:"not null;default:0"`
	PresenceRate  decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	Validated     bool            `gorm:"not null;default:false"`
	CreatedAt     time.Time       `gorm:"autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime"`
}

func (a *AttendanceSummary) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}

package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-backend/pkg/enums"
)

// UserCreatedEvent is emitted by the identity service when an account is registered.
type UserCreatedEvent struct {
	UserID    uuid.UUID      `json:"user_id" validate:"required"`
	Email     string         `json:"email" validate:"required,email"`
	Role      enums.UserRole `json:"role" validate:"required"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	CIN       string         `json:"cin,omitempty"`
}

type UserDeletedEvent struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
}

type StudentCreatedEvent struct {
	StudentID uuid.UUID `json:"student_id" validate:"required"`
	UserID    uuid.UUID `json:"user_id" validate:"required"`
	CIN       string    `json:"cin"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
}

type StudentUpdatedEvent struct {
	StudentID     uuid.UUID `json:"student_id" validate:"required"`
	UpdatedFields []string  `json:"updated_fields,omitempty"`
}

type StudentDeletedEvent struct {
	StudentID uuid.UUID `json:"student_id" validate:"required"`
	UserID    uuid.UUID `json:"user_id" validate:"required"`
}

type EncadrantCreatedEvent struct {
	EncadrantID uuid.UUID `json:"encadrant_id" validate:"required"`
	UserID      uuid.UUID `json:"user_id" validate:"required"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
}

type EncadrantDeletedEvent struct {
	EncadrantID uuid.UUID `json:"encadrant_id" validate:"required"`
	UserID      uuid.UUID `json:"user_id" validate:"required"`
}

// OfferEvent covers the offer.* lifecycle.
type OfferEvent struct {
	OfferID   uuid.UUID  `json:"offer_id" validate:"required"`
	Title     string     `json:"title,omitempty"`
	Status    string     `json:"status,omitempty"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
}

// ApplicationEvent covers the application.* lifecycle.
type ApplicationEvent struct {
	ApplicationID uuid.UUID               `json:"application_id" validate:"required"`
	StudentID     uuid.UUID               `json:"student_id" validate:"required"`
	OfferID       uuid.UUID               `json:"offer_id" validate:"required"`
	OfferTitle    string                  `json:"offer_title,omitempty"`
	Status        enums.ApplicationStatus `json:"status,omitempty"`
	DecisionBy    *uuid.UUID              `json:"decision_by,omitempty"`
	DecisionAt    *time.Time              `json:"decision_at,omitempty"`
}

// AffectationEvent covers the affectation.* lifecycle.
type AffectationEvent struct {
	AffectationID uuid.UUID `json:"affectation_id" validate:"required"`
	ApplicationID uuid.UUID `json:"application_id"`
	StudentID     uuid.UUID `json:"student_id" validate:"required"`
	OfferID       uuid.UUID `json:"offer_id" validate:"required"`
	OfferTitle    string    `json:"offer_title,omitempty"`
}

// AttendanceEvent covers the attendance.* lifecycle.
type AttendanceEvent struct {
	StudentID           uuid.UUID        `json:"student_id" validate:"required"`
	OfferID             uuid.UUID        `json:"offer_id"`
	Date                string           `json:"date,omitempty"`
	JustificationReason string           `json:"justification_reason,omitempty"`
	Validated           bool             `json:"validated"`
	PresenceRate        *decimal.Decimal `json:"presence_rate,omitempty"`
}

// EvaluationEvent covers the evaluation.* lifecycle.
type EvaluationEvent struct {
	EvaluationID uuid.UUID        `json:"evaluation_id" validate:"required"`
	StudentID    uuid.UUID        `json:"student_id" validate:"required"`
	OfferID      uuid.UUID        `json:"offer_id"`
	Grade        *decimal.Decimal `json:"grade,omitempty"`
	Score        *decimal.Decimal `json:"score,omitempty"`
	Validated    bool             `json:"validated"`
}

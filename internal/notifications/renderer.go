package notifications

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-backend/pkg/enums"
	"github.com/medtrack/medtrack-backend/pkg/events"
)

const (
	relatedStudent     = "student"
	relatedEncadrant   = "encadrant"
	relatedOffer       = "offer"
	relatedApplication = "application"
	relatedAffectation = "affectation"
	relatedAttendance  = "attendance"
	relatedEvaluation  = "evaluation"

	defaultOfferTitle = "an internship"
)

// Message is a rendered notification before it is addressed and stored.
// Exactly one of UserID, StudentID is set unless the message is a broadcast.
type Message struct {
	EventType         enums.EventType
	Title             string
	Content           string
	Channel           enums.NotificationChannel
	RelatedObjectType string
	RelatedObjectID   string
	UserID            *uuid.UUID
	StudentID         *uuid.UUID
	Broadcast         bool
	// DedupeKey defaults to event type and related object id.
	DedupeKey string
}

func (m Message) dedupeKey() string {
	if m.DedupeKey != "" {
		return m.DedupeKey
	}
	return string(m.EventType) + ":" + m.RelatedObjectID
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}

func offerTitle(title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return defaultOfferTitle
}

func formatDecimal(value *decimal.Decimal, places int32) string {
	if value == nil {
		return "0"
	}
	return value.Round(places).String()
}

func renderStudentCreated(p events.StudentCreatedEvent) Message {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		name = "there"
	}
	return Message{
		EventType: enums.EventStudentCreated,
		Title:     "Welcome to MedTrack!",
		Content: fmt.Sprintf("Hello %s! Your student profile has been created successfully. "+
			"You can now browse internship offers and apply for stages.", name),
		Channel:           enums.NotificationChannelSystem,
		RelatedObjectType: relatedStudent,
		RelatedObjectID:   p.StudentID.String(),
		UserID:            uuidPtr(p.UserID),
	}
}

func renderEncadrantCreated(p events.EncadrantCreatedEvent) Message {
	name := strings.TrimSpace(p.LastName)
	if name == "" {
		name = strings.TrimSpace(p.FirstName)
	}
	return Message{
		EventType: enums.EventEncadrantCreated,
		Title:     "Welcome as Encadrant!",
		Content: fmt.Sprintf("Hello Dr. %s! Your encadrant profile has been created. "+
			"You can now supervise students during their internships.", name),
		Channel:           enums.NotificationChannelSystem,
		RelatedObjectType: relatedEncadrant,
		RelatedObjectID:   p.EncadrantID.String(),
		UserID:            uuidPtr(p.UserID),
	}
}

// renderOffer returns false when the event carries nobody to notify.
func renderOffer(eventType enums.EventType, p events.OfferEvent) (Message, bool) {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "Unknown"
	}
	msg := Message{
		EventType:         eventType,
		Channel:           enums.NotificationChannelEmail,
		RelatedObjectType: relatedOffer,
		RelatedObjectID:   p.OfferID.String(),
	}

	switch eventType {
	case enums.EventOfferPublished:
		msg.Title = "New Internship Offer"
		msg.Content = fmt.Sprintf("New internship opportunity: %s", title)
		msg.Channel = enums.NotificationChannelSystem
		msg.Broadcast = true
		return msg, true
	case enums.EventOfferCreated:
		msg.Title = "Offer Created"
		msg.Content = fmt.Sprintf("Your offer '%s' has been created successfully!", title)
	case enums.EventOfferClosed:
		msg.Title = "Offer Closed"
		msg.Content = fmt.Sprintf("Your offer '%s' is closed and no longer accepts applications.", title)
	case enums.EventOfferDeleted:
		msg.Title = "Offer Deleted"
		msg.Content = fmt.Sprintf("Your offer '%s' has been deleted.", title)
	default:
		return Message{}, false
	}

	if p.CreatedBy == nil || *p.CreatedBy == uuid.Nil {
		return Message{}, false
	}
	msg.UserID = uuidPtr(*p.CreatedBy)
	return msg, true
}

func renderApplication(eventType enums.EventType, envelope events.Envelope, p events.ApplicationEvent) (Message, bool) {
	title := offerTitle(p.OfferTitle)
	msg := Message{
		EventType:         eventType,
		Channel:           enums.NotificationChannelEmail,
		RelatedObjectType: relatedApplication,
		RelatedObjectID:   p.ApplicationID.String(),
		StudentID:         uuidPtr(p.StudentID),
	}

	switch eventType {
	case enums.EventApplicationSubmitted:
		msg.Title = "Application Submitted"
		msg.Content = fmt.Sprintf("Your application for '%s' has been submitted successfully!", title)
	case enums.EventApplicationUpdated:
		msg.Title = "Application Updated"
		msg.Content = fmt.Sprintf("Your application for '%s' has been updated.", title)
		// every update is its own notification
		msg.DedupeKey = string(eventType) + ":" + p.ApplicationID.String() + ":" + envelope.EventID
	case enums.EventApplicationWithdrawn:
		msg.Title = "Application Withdrawn"
		msg.Content = fmt.Sprintf("You have withdrawn your application for '%s'.", title)
	case enums.EventApplicationAccepted:
		msg.Title = "Application Accepted"
		msg.Content = fmt.Sprintf("Congratulations! Your application for '%s' has been accepted!", title)
	case enums.EventApplicationRejected:
		msg.Title = "Application Rejected"
		msg.Content = fmt.Sprintf("Your application for '%s' has been rejected.", title)
	default:
		return Message{}, false
	}
	return msg, true
}

func renderAffectation(eventType enums.EventType, p events.AffectationEvent) (Message, bool) {
	msg := Message{
		EventType:         eventType,
		Channel:           enums.NotificationChannelEmail,
		RelatedObjectType: relatedAffectation,
		RelatedObjectID:   p.AffectationID.String(),
		StudentID:         uuidPtr(p.StudentID),
	}

	switch eventType {
	case enums.EventAffectationCreated:
		msg.Title = "New Internship Assignment"
		msg.Content = fmt.Sprintf("You have been assigned to: %s. Your internship starts soon!", offerTitle(p.OfferTitle))
	case enums.EventAffectationDeleted:
		msg.Title = "Internship Assignment Removed"
		msg.Content = "Your internship assignment has been removed."
	default:
		return Message{}, false
	}
	return msg, true
}

func renderAttendance(eventType enums.EventType, envelope events.Envelope, p events.AttendanceEvent) (Message, bool) {
	related := p.StudentID.String()
	if p.OfferID != uuid.Nil {
		related += ":" + p.OfferID.String()
	}
	msg := Message{
		EventType:         eventType,
		Channel:           enums.NotificationChannelEmail,
		RelatedObjectType: relatedAttendance,
		RelatedObjectID:   related,
		StudentID:         uuidPtr(p.StudentID),
	}

	switch eventType {
	case enums.EventAttendanceJustified:
		reason := strings.TrimSpace(p.JustificationReason)
		if reason == "" {
			reason = "Provided"
		}
		msg.Title = "Absence Justified"
		msg.Content = fmt.Sprintf("Your absence on %s has been justified: %s", p.Date, reason)
		msg.DedupeKey = string(eventType) + ":" + related + ":" + p.Date
	case enums.EventAttendanceValidated:
		if p.Validated {
			msg.Title = "Attendance Validated"
			msg.Content = fmt.Sprintf("Your attendance has been validated! Presence rate: %s%%", formatDecimal(p.PresenceRate, 2))
		} else {
			msg.Title = "Attendance Validation Revoked"
			msg.Content = "Your attendance validation has been revoked."
		}
		// validation can be toggled back and forth
		msg.DedupeKey = string(eventType) + ":" + related + ":" + envelope.EventID
	default:
		return Message{}, false
	}
	return msg, true
}

func renderEvaluation(eventType enums.EventType, envelope events.Envelope, p events.EvaluationEvent) (Message, bool) {
	msg := Message{
		EventType:         eventType,
		Channel:           enums.NotificationChannelEmail,
		RelatedObjectType: relatedEvaluation,
		RelatedObjectID:   p.EvaluationID.String(),
		StudentID:         uuidPtr(p.StudentID),
	}

	switch eventType {
	case enums.EventEvaluationCreated:
		msg.Title = "New Evaluation"
		msg.Content = fmt.Sprintf("Your internship has been evaluated. Score: %s/100", formatDecimal(p.Score, 2))
	case enums.EventEvaluationSubmitted:
		msg.Title = "Evaluation Submitted"
		msg.Content = fmt.Sprintf("Your evaluation has been submitted. Grade: %s/20", formatDecimal(p.Grade, 2))
	case enums.EventEvaluationValidated:
		if p.Validated {
			msg.Title = "Evaluation Validated"
			msg.Content = fmt.Sprintf("✅ Your evaluation has been validated! Final grade: %s/20", formatDecimal(p.Grade, 2))
		} else {
			msg.Title = "Evaluation Validation Revoked"
			msg.Content = "Your evaluation validation has been revoked."
		}
		msg.DedupeKey = string(eventType) + ":" + p.EvaluationID.String() + ":" + envelope.EventID
	default:
		return Message{}, false
	}
	return msg, true
}

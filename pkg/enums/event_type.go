package enums

import (
	"fmt"
	"strings"
)

// EventType is the closed set of routing keys exchanged on the event bus.
type EventType string

const (
	EventUserCreated  EventType = "user.created"
	EventUserDeleted  EventType = "user.deleted"
	EventUserVerified EventType = "user.verified"

	EventStudentCreated EventType = "student.created"
	EventStudentUpdated EventType = "student.updated"
	EventStudentDeleted EventType = "student.deleted"

	EventEncadrantCreated EventType = "encadrant.created"
	EventEncadrantDeleted EventType = "encadrant.deleted"

	EventOfferCreated   EventType = "offer.created"
	EventOfferPublished EventType = "offer.published"
	EventOfferUpdated   EventType = "offer.updated"
	EventOfferClosed    EventType = "offer.closed"
	EventOfferDeleted   EventType = "offer.deleted"

	EventApplicationSubmitted EventType = "application.submitted"
	EventApplicationUpdated   EventType = "application.updated"
	EventApplicationWithdrawn EventType = "application.withdrawn"
	EventApplicationAccepted  EventType = "application.accepted"
	EventApplicationRejected  EventType = "application.rejected"

	EventAffectationCreated EventType = "affectation.created"
	EventAffectationUpdated EventType = "affectation.updated"
	EventAffectationDeleted EventType = "affectation.deleted"

	EventAttendanceMarked    EventType = "attendance.marked"
	EventAttendanceJustified EventType = "attendance.justified"
	EventAttendanceValidated EventType = "attendance.validated"

	EventEvaluationCreated   EventType = "evaluation.created"
	EventEvaluationSubmitted EventType = "evaluation.submitted"
	EventEvaluationValidated EventType = "evaluation.validated"
)

var validEventTypes = []EventType{
	EventUserCreated,
	EventUserDeleted,
	EventUserVerified,
	EventStudentCreated,
	EventStudentUpdated,
	EventStudentDeleted,
	EventEncadrantCreated,
	EventEncadrantDeleted,
	EventOfferCreated,
	EventOfferPublished,
	EventOfferUpdated,
	EventOfferClosed,
	EventOfferDeleted,
	EventApplicationSubmitted,
	EventApplicationUpdated,
	EventApplicationWithdrawn,
	EventApplicationAccepted,
	EventApplicationRejected,
	EventAffectationCreated,
	EventAffectationUpdated,
	EventAffectationDeleted,
	EventAttendanceMarked,
	EventAttendanceJustified,
	EventAttendanceValidated,
	EventEvaluationCreated,
	EventEvaluationSubmitted,
	EventEvaluationValidated,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is one of the known event types.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// Entity returns the leading routing-key segment, e.g. "student" for student.created.
func (e EventType) Entity() string {
	entity, _, _ := strings.Cut(string(e), ".")
	return entity
}

// Action returns the trailing routing-key segment, e.g. "created" for student.created.
func (e EventType) Action() string {
	idx := strings.LastIndex(string(e), ".")
	if idx < 0 {
		return ""
	}
	return string(e)[idx+1:]
}

// EventTypes returns a copy of every known event type.
func EventTypes() []EventType {
	out := make([]EventType, len(validEventTypes))
	copy(out, validEventTypes)
	return out
}

// ParseEventType converts raw strings into EventType.
func ParseEventType(value string) (EventType, error) {
	trimmed := strings.TrimSpace(value)
	for _, candidate := range validEventTypes {
		if string(candidate) == trimmed {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// Package notifications renders domain events into user notifications, stores them once and
// pushes them to the recipient's open sockets.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
	"github.com/medtrack/medtrack-backend/pkg/serviceclient"
)

// Queue is the durable queue of the communication consumer.
const Queue = "comm.events"

var Bindings = []string{
	"student.*",
	"encadrant.*",
	"offer.*",
	"application.*",
	"affectation.*",
	"attendance.*",
	"evaluation.*",
}

// Handled lists the event types that produce a notification. Other types matched by
// Bindings are acknowledged without effect.
var Handled = []enums.EventType{
	enums.EventStudentCreated,
	enums.EventEncadrantCreated,
	enums.EventOfferCreated,
	enums.EventOfferPublished,
	enums.EventOfferClosed,
	enums.EventOfferDeleted,
	enums.EventApplicationSubmitted,
	enums.EventApplicationUpdated,
	enums.EventApplicationWithdrawn,
	enums.EventApplicationAccepted,
	enums.EventApplicationRejected,
	enums.EventAffectationCreated,
	enums.EventAffectationDeleted,
	enums.EventAttendanceJustified,
	enums.EventAttendanceValidated,
	enums.EventEvaluationCreated,
	enums.EventEvaluationSubmitted,
	enums.EventEvaluationValidated,
}

// ProfileLookup resolves a student id to the owning user for addressing.
type ProfileLookup interface {
	Student(ctx context.Context, studentID uuid.UUID) serviceclient.Result[serviceclient.Student]
}

type Service struct {
	repo     Repository
	profiles ProfileLookup
	pusher   Pusher
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, profiles ProfileLookup, pusher Pusher, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "profile lookup required")
	}
	if pusher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "pusher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:     repo,
		profiles: profiles,
		pusher:   pusher,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Register wires one handler per event type in Handled.
func (s *Service) Register(router *events.Router) error {
	handlers := map[enums.EventType]events.Handler{
		enums.EventStudentCreated: events.On(func(ctx context.Context, env events.Envelope, p *events.StudentCreatedEvent) error {
			return s.deliver(ctx, env, renderStudentCreated(*p), true)
		}),
		enums.EventEncadrantCreated: events.On(func(ctx context.Context, env events.Envelope, p *events.EncadrantCreatedEvent) error {
			return s.deliver(ctx, env, renderEncadrantCreated(*p), true)
		}),
	}
	for _, eventType := range []enums.EventType{
		enums.EventOfferCreated, enums.EventOfferPublished, enums.EventOfferClosed, enums.EventOfferDeleted,
	} {
		eventType := eventType
		handlers[eventType] = events.On(func(ctx context.Context, env events.Envelope, p *events.OfferEvent) error {
			msg, ok := renderOffer(eventType, *p)
			return s.deliver(ctx, env, msg, ok)
		})
	}
	for _, eventType := range []enums.EventType{
		enums.EventApplicationSubmitted, enums.EventApplicationUpdated, enums.EventApplicationWithdrawn,
		enums.EventApplicationAccepted, enums.EventApplicationRejected,
	} {
		eventType := eventType
		handlers[eventType] = events.On(func(ctx context.Context, env events.Envelope, p *events.ApplicationEvent) error {
			msg, ok := renderApplication(eventType, env, *p)
			return s.deliver(ctx, env, msg, ok)
		})
	}
	for _, eventType := range []enums.EventType{enums.EventAffectationCreated, enums.EventAffectationDeleted} {
		eventType := eventType
		handlers[eventType] = events.On(func(ctx context.Context, env events.Envelope, p *events.AffectationEvent) error {
			msg, ok := renderAffectation(eventType, *p)
			return s.deliver(ctx, env, msg, ok)
		})
	}
	for _, eventType := range []enums.EventType{enums.EventAttendanceJustified, enums.EventAttendanceValidated} {
		eventType := eventType
		handlers[eventType] = events.On(func(ctx context.Context, env events.Envelope, p *events.AttendanceEvent) error {
			msg, ok := renderAttendance(eventType, env, *p)
			return s.deliver(ctx, env, msg, ok)
		})
	}
	for _, eventType := range []enums.EventType{
		enums.EventEvaluationCreated, enums.EventEvaluationSubmitted, enums.EventEvaluationValidated,
	} {
		eventType := eventType
		handlers[eventType] = events.On(func(ctx context.Context, env events.Envelope, p *events.EvaluationEvent) error {
			msg, ok := renderEvaluation(eventType, env, *p)
			return s.deliver(ctx, env, msg, ok)
		})
	}

	for _, eventType := range Handled {
		handler, ok := handlers[eventType]
		if !ok {
			continue
		}
		if err := router.Register(eventType, handler); err != nil {
			return err
		}
	}
	return router.Require(Handled...)
}

// deliver addresses, stores and pushes msg. Redeliveries find the stored row through its
// dedupe key and only repeat the steps that did not complete.
func (s *Service) deliver(ctx context.Context, envelope events.Envelope, msg Message, ok bool) error {
	if !ok {
		s.logg.Info(ctx, "event carries no recipient; nothing to notify")
		return nil
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"related_object_type": msg.RelatedObjectType,
		"related_object_id":   msg.RelatedObjectID,
	})

	degraded := false
	if msg.UserID == nil && msg.StudentID != nil {
		userID, resolved := s.resolveStudent(ctx, *msg.StudentID)
		msg.UserID = userID
		degraded = !resolved
	}

	metadata, err := json.Marshal(map[string]string{
		"event_id":       envelope.EventID,
		"correlation_id": envelope.CorrelationID,
	})
	if err != nil {
		return events.NewNonRetryableError(err)
	}

	notification, created, err := s.repo.CreateIfAbsent(ctx, &models.Notification{
		UserID:            msg.UserID,
		StudentID:         msg.StudentID,
		Channel:           msg.Channel,
		Title:             msg.Title,
		Content:           msg.Content,
		RelatedObjectType: msg.RelatedObjectType,
		RelatedObjectID:   msg.RelatedObjectID,
		Status:            enums.NotificationStatusPending,
		Degraded:          degraded,
		DedupeKey:         msg.dedupeKey(),
		SourceEventID:     envelope.EventID,
		Metadata:          metadata,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store notification")
	}

	ctx = s.logg.WithField(ctx, "notification_id", notification.ID.String())
	if !created {
		if notification.Status.IsTerminal() {
			s.logg.Info(ctx, "notification already delivered")
			return nil
		}
		if notification.UserID == nil && msg.UserID != nil && !degraded {
			if err := s.repo.AssignRecipient(ctx, notification.ID, *msg.UserID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "address notification")
			}
			notification.UserID = msg.UserID
			notification.Degraded = false
		}
	}

	switch {
	case msg.Broadcast:
		return s.markSent(ctx, notification)
	case notification.UserID == nil:
		s.logg.Warn(s.logg.WithField(ctx, "degraded", true), "notification stored without push; recipient unresolved")
		return nil
	}

	return s.push(ctx, notification)
}

func (s *Service) push(ctx context.Context, notification *models.Notification) error {
	if err := s.pusher.Push(ctx, *notification.UserID, pushMessageFor(notification)); err != nil {
		if markErr := s.repo.MarkFailed(ctx, notification.ID, err); markErr != nil {
			s.logg.Error(ctx, "failed to record push failure", markErr)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "push notification")
	}
	return s.markSent(ctx, notification)
}

// RetryStuck re-attempts notifications a consumer could not finish: failed pushes and degraded rows whose
// student may now resolve. It returns how many were delivered; per-row failures are combined.
func (s *Service) RetryStuck(ctx context.Context, before time.Time, maxAttempts, limit int) (int, error) {
	rows, err := s.repo.ListStuck(ctx, before, maxAttempts, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stuck notifications")
	}

	delivered := 0
	var errs error
	for i := range rows {
		notification := &rows[i]
		rowCtx := s.logg.WithFields(ctx, map[string]any{
			"notification_id": notification.ID.String(),
			"attempts":        notification.Attempts,
		})

		if notification.UserID == nil {
			userID, resolved := s.resolveStudent(rowCtx, *notification.StudentID)
			if !resolved {
				continue
			}
			if err := s.repo.AssignRecipient(rowCtx, notification.ID, *userID); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("address notification %s: %w", notification.ID, err))
				continue
			}
			notification.UserID = userID
		}

		if err := s.push(rowCtx, notification); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("retry notification %s: %w", notification.ID, err))
			continue
		}
		delivered++
	}
	return delivered, errs
}

func (s *Service) markSent(ctx context.Context, notification *models.Notification) error {
	if err := s.repo.MarkSent(ctx, notification.ID, s.now()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification sent")
	}
	s.logg.Info(ctx, "notification delivered")
	return nil
}

// resolveStudent maps a student to its user. A miss or an unavailable profile service
// degrades the notification instead of failing the event.
func (s *Service) resolveStudent(ctx context.Context, studentID uuid.UUID) (*uuid.UUID, bool) {
	result := s.profiles.Student(ctx, studentID)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"student_id": studentID.String(),
		"enrichment": result.Status().String(),
	})

	switch result.Status() {
	case serviceclient.StatusFound:
		student, _ := result.Value()
		if student.UserID == uuid.Nil {
			s.logg.Warn(ctx, "student profile has no user")
			return nil, false
		}
		return uuidPtr(student.UserID), true
	case serviceclient.StatusNotFound:
		s.logg.Warn(ctx, "student profile not found")
		return nil, false
	default:
		s.logg.Error(ctx, "student profile unavailable", result.Err())
		return nil, false
	}
}

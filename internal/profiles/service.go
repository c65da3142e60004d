// Package profiles provisions student and encadrant profiles from identity events.
package profiles

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

const (
	// Queue is the durable queue of the profile consumer.
	Queue = "profile.events"

	autoCINPrefix = "AUTO-"
)

// Bindings are the routing patterns bound to Queue. user.verified is bound but has no handler.
var Bindings = []string{
	string(enums.EventUserCreated),
	string(enums.EventUserDeleted),
	string(enums.EventUserVerified),
}

// Handled lists the event types this service must have handlers for.
var Handled = []enums.EventType{
	enums.EventUserCreated,
	enums.EventUserDeleted,
}

type Service struct {
	repo    Repository
	emitter events.Emitter
	logg    *logger.Logger
}

func NewService(repo Repository, emitter events.Emitter, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("profiles repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, emitter: emitter, logg: logg}, nil
}

// Register wires the handlers into router and checks none is missing.
func (s *Service) Register(router *events.Router) error {
	if err := router.Register(enums.EventUserCreated, events.On(s.HandleUserCreated)); err != nil {
		return err
	}
	if err := router.Register(enums.EventUserDeleted, events.On(s.HandleUserDeleted)); err != nil {
		return err
	}
	return router.Require(Handled...)
}

// HandleUserCreated provisions the profile matching the user's role and announces it.
// A profile that already exists is announced again so a lost follow-on event is recovered on redelivery.
func (s *Service) HandleUserCreated(ctx context.Context, _ events.Envelope, payload *events.UserCreatedEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id": payload.UserID.String(),
		"role":    payload.Role.String(),
	})

	switch payload.Role {
	case enums.UserRoleStudent:
		return s.provisionStudent(ctx, payload)
	case enums.UserRoleEncadrant:
		return s.provisionEncadrant(ctx, payload)
	default:
		s.logg.Info(ctx, "no profile for role")
		return nil
	}
}

func (s *Service) provisionStudent(ctx context.Context, payload *events.UserCreatedEvent) error {
	cin := strings.TrimSpace(payload.CIN)
	if cin == "" {
		cin = defaultCIN(payload.UserID)
	}

	student, created, err := s.repo.CreateStudent(ctx, &models.Student{
		UserID:    payload.UserID,
		CIN:       cin,
		Email:     payload.Email,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Phone:     payload.Phone,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create student")
	}

	ctx = s.logg.WithField(ctx, "student_id", student.ID.String())
	if created {
		s.logg.Info(ctx, "student profile created")
	} else {
		s.logg.Info(ctx, "student profile already exists")
	}

	return s.emitter.Publish(ctx, enums.EventStudentCreated, events.StudentCreatedEvent{
		StudentID: student.ID,
		UserID:    student.UserID,
		CIN:       student.CIN,
		Email:     student.Email,
		FirstName: student.FirstName,
		LastName:  student.LastName,
		Phone:     student.Phone,
	})
}

func (s *Service) provisionEncadrant(ctx context.Context, payload *events.UserCreatedEvent) error {
	encadrant, created, err := s.repo.CreateEncadrant(ctx, &models.Encadrant{
		UserID:    payload.UserID,
		Email:     payload.Email,
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Phone:     payload.Phone,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create encadrant")
	}

	ctx = s.logg.WithField(ctx, "encadrant_id", encadrant.ID.String())
	if created {
		s.logg.Info(ctx, "encadrant profile created")
	} else {
		s.logg.Info(ctx, "encadrant profile already exists")
	}

	return s.emitter.Publish(ctx, enums.EventEncadrantCreated, events.EncadrantCreatedEvent{
		EncadrantID: encadrant.ID,
		UserID:      encadrant.UserID,
		Email:       encadrant.Email,
		FirstName:   encadrant.FirstName,
		LastName:    encadrant.LastName,
	})
}

// HandleUserDeleted announces every profile of the user and then removes them.
// Rows are only deleted once all announcements went out, so a failed publish is retried in full.
func (s *Service) HandleUserDeleted(ctx context.Context, _ events.Envelope, payload *events.UserDeletedEvent) error {
	ctx = s.logg.WithField(ctx, "user_id", payload.UserID.String())

	students, encadrants, err := s.repo.FindByUser(ctx, payload.UserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profiles")
	}
	if len(students) == 0 && len(encadrants) == 0 {
		s.logg.Info(ctx, "no profiles to delete")
		return nil
	}

	for _, student := range students {
		if err := s.emitter.Publish(ctx, enums.EventStudentDeleted, events.StudentDeletedEvent{
			StudentID: student.ID,
			UserID:    student.UserID,
		}); err != nil {
			return err
		}
	}
	for _, encadrant := range encadrants {
		if err := s.emitter.Publish(ctx, enums.EventEncadrantDeleted, events.EncadrantDeletedEvent{
			EncadrantID: encadrant.ID,
			UserID:      encadrant.UserID,
		}); err != nil {
			return err
		}
	}

	if err := s.repo.DeleteByUser(ctx, payload.UserID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete profiles")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"students":   len(students),
		"encadrants": len(encadrants),
	}), "profiles deleted")
	return nil
}

func defaultCIN(userID uuid.UUID) string {
	return autoCINPrefix + userID.String()[:8]
}

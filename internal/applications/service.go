// Package applications holds the encadrant decision on internship applications.
package applications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

// Actor is the authenticated user taking a decision.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

type Service struct {
	repo    Repository
	emitter events.Emitter
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(repo Repository, emitter events.Emitter, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("applications repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:    repo,
		emitter: emitter,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Decide accepts or rejects a pending application, commits the decision and then announces it.
// A failed announcement is returned as a dependency error; the decision itself stays committed.
func (s *Service) Decide(ctx context.Context, actor Actor, applicationID uuid.UUID, decision enums.ApplicationStatus) (*models.Application, error) {
	if !actor.Role.CanDecideApplications() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only encadrants and admins decide applications")
	}
	if !decision.IsDecision() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid decision %q", decision))
	}
	if applicationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "application id required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"application_id": applicationID.String(),
		"decision":       string(decision),
		"actor_id":       actor.UserID.String(),
	})

	application, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load application")
	}
	if application == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
	}
	if application.Status != enums.ApplicationStatusPending {
		return nil, stateConflict(application.Status)
	}

	at := s.now()
	changed, err := s.repo.TransitionFromPending(ctx, applicationID, decision, actor.UserID, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update application")
	}
	if !changed {
		// decided concurrently between the read and the update
		current, err := s.repo.FindByID(ctx, applicationID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload application")
		}
		status := enums.ApplicationStatus("")
		if current != nil {
			status = current.Status
		}
		return nil, stateConflict(status)
	}

	decidedBy := actor.UserID
	application.Status = decision
	application.DecisionBy = &decidedBy
	application.DecisionAt = &at
	s.logg.Info(ctx, "application decided")

	if err := s.announce(ctx, application); err != nil {
		s.logg.Error(ctx, "decision committed but not announced", err)
		return application, err
	}
	return application, nil
}

// Announce publishes the stored decision of an already decided application again. It recovers a
// decision whose announcement failed after the commit; consumers handle the repeat idempotently.
func (s *Service) Announce(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.Application, error) {
	if !actor.Role.CanDecideApplications() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only encadrants and admins decide applications")
	}
	if applicationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "application id required")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"application_id": applicationID.String(),
		"actor_id":       actor.UserID.String(),
	})

	application, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load application")
	}
	if application == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
	}
	if !application.Status.IsDecision() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only decided applications can be announced").
			WithDetails(map[string]any{"status": string(application.Status)})
	}

	if err := s.announce(ctx, application); err != nil {
		return application, err
	}
	s.logg.Info(s.logg.WithField(ctx, "decision", string(application.Status)), "application decision announced")
	return application, nil
}

func (s *Service) announce(ctx context.Context, application *models.Application) error {
	payload := events.ApplicationEvent{
		ApplicationID: application.ID,
		StudentID:     application.StudentID,
		OfferID:       application.OfferID,
		Status:        application.Status,
		DecisionBy:    application.DecisionBy,
		DecisionAt:    application.DecisionAt,
	}
	if application.Offer != nil {
		payload.OfferTitle = application.Offer.Title
	}

	eventType := enums.EventApplicationRejected
	if application.Status == enums.ApplicationStatusAccepted {
		eventType = enums.EventApplicationAccepted
	}
	return s.emitter.Publish(ctx, eventType, payload)
}

func stateConflict(current enums.ApplicationStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "only pending applications can be decided").
		WithDetails(map[string]any{"status": string(current)})
}

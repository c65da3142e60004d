// Package affectations turns accepted applications into internship placements.
package affectations

import (
	"context"
	"fmt"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

// Queue is the durable queue of the core consumer.
const Queue = "core.events"

var Bindings = []string{string(enums.EventApplicationAccepted)}

var Handled = []enums.EventType{enums.EventApplicationAccepted}

type Service struct {
	repo    Repository
	emitter events.Emitter
	logg    *logger.Logger
}

func NewService(repo Repository, emitter events.Emitter, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("affectations repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, emitter: emitter, logg: logg}, nil
}

func (s *Service) Register(router *events.Router) error {
	if err := router.Register(enums.EventApplicationAccepted, events.On(s.HandleApplicationAccepted)); err != nil {
		return err
	}
	return router.Require(Handled...)
}

// HandleApplicationAccepted creates the affectation of an accepted application once and
// announces it on every delivery.
func (s *Service) HandleApplicationAccepted(ctx context.Context, envelope events.Envelope, payload *events.ApplicationEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"application_id": payload.ApplicationID.String(),
		"student_id":     payload.StudentID.String(),
		"offer_id":       payload.OfferID.String(),
	})

	title := payload.OfferTitle
	if title == "" {
		known, err := s.repo.OfferTitle(ctx, payload.OfferID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load offer title")
		}
		title = known
	}

	affectation, created, err := s.repo.CreateIfAbsent(ctx, &models.Affectation{
		ApplicationID: payload.ApplicationID,
		StudentID:     payload.StudentID,
		OfferID:       payload.OfferID,
		OfferTitle:    title,
		SourceEventID: envelope.EventID,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create affectation")
	}

	ctx = s.logg.WithField(ctx, "affectation_id", affectation.ID.String())
	if created {
		s.logg.Info(ctx, "affectation created")
	} else {
		s.logg.Info(ctx, "affectation already exists")
	}

	return s.emitter.Publish(ctx, enums.EventAffectationCreated, events.AffectationEvent{
		AffectationID: affectation.ID,
		ApplicationID: affectation.ApplicationID,
		StudentID:     affectation.StudentID,
		OfferID:       affectation.OfferID,
		OfferTitle:    affectation.OfferTitle,
	})
}

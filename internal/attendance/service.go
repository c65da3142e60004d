// Package attendance opens attendance tracking for new internship placements.
package attendance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/events"
	"github.com/medtrack/medtrack-backend/pkg/logger"
)

// Queue is the durable queue of the evaluation consumer.
const Queue = "eval.events"

var Bindings = []string{
	string(enums.EventAffectationCreated),
	string(enums.EventOfferPublished),
}

var Handled = []enums.EventType{
	enums.EventAffectationCreated,
	enums.EventOfferPublished,
}

type Service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("attendance repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

func (s *Service) Register(router *events.Router) error {
	if err := router.Register(enums.EventAffectationCreated, events.On(s.HandleAffectationCreated)); err != nil {
		return err
	}
	if err := router.Register(enums.EventOfferPublished, events.On(s.HandleOfferPublished)); err != nil {
		return err
	}
	return router.Require(Handled...)
}

// HandleAffectationCreated opens an empty summary for the placed student.
func (s *Service) HandleAffectationCreated(ctx context.Context, _ events.Envelope, payload *events.AffectationEvent) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"affectation_id": payload.AffectationID.String(),
		"student_id":     payload.StudentID.String(),
		"offer_id":       payload.OfferID.String(),
	})

	affectationID := payload.AffectationID
	summary, created, err := s.repo.CreateIfAbsent(ctx, &models.AttendanceSummary{
		StudentID:     payload.StudentID,
		OfferID:       payload.OfferID,
		AffectationID: &affectationID,
		TotalDays:     0,
		PresentDays:   0,
		PresenceRate:  decimal.Zero.Round(2),
		Validated:     false,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create attendance summary")
	}

	ctx = s.logg.WithField(ctx, "summary_id", summary.ID.String())
	if created {
		s.logg.Info(ctx, "attendance summary opened")
		return nil
	}
	s.logg.Info(ctx, "attendance summary already exists")
	return nil
}

func (s *Service) HandleOfferPublished(ctx context.Context, _ events.Envelope, payload *events.OfferEvent) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"offer_id": payload.OfferID.String(),
		"title":    payload.Title,
	}), "offer published")
	return nil
}

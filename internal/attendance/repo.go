package attendance

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
)

// Repository persists attendance summaries, one per (student, offer).
type Repository interface {
	CreateIfAbsent(ctx context.Context, summary *models.AttendanceSummary) (*models.AttendanceSummary, bool, error)
	Find(ctx context.Context, studentID, offerID uuid.UUID) (*models.AttendanceSummary, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn}
}

func (r *repositoryImpl) CreateIfAbsent(ctx context.Context, summary *models.AttendanceSummary) (*models.AttendanceSummary, bool, error) {
	existing, err := r.Find(ctx, summary.StudentID, summary.OfferID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := r.db.WithContext(ctx).Create(summary).Error; err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, false, err
		}
		existing, findErr := r.Find(ctx, summary.StudentID, summary.OfferID)
		if findErr != nil || existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return summary, true, nil
}

func (r *repositoryImpl) Find(ctx context.Context, studentID, offerID uuid.UUID) (*models.AttendanceSummary, error) {
	var summary models.AttendanceSummary
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND offer_id = ?", studentID, offerID).
		Take(&summary).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

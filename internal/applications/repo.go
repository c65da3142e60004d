package applications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
)

// Repository exposes persistence helpers for applications.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	// TransitionFromPending applies status only while the application is still pending and
	// reports whether a row changed.
	TransitionFromPending(ctx context.Context, id uuid.UUID, status enums.ApplicationStatus, decidedBy uuid.UUID, at time.Time) (bool, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn}
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var application models.Application
	err := r.db.WithContext(ctx).Preload("Offer").Where("id = ?", id).Take(&application).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &application, nil
}

func (r *repositoryImpl) TransitionFromPending(ctx context.Context, id uuid.UUID, status enums.ApplicationStatus, decidedBy uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Application{}).
		Where("id = ? AND status = ?", id, enums.ApplicationStatusPending).
		Updates(map[string]any{
			"status":      status,
			"decision_by": decidedBy,
			"decision_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

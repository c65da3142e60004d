package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
)

const lastErrorLimit = 1024

// Repository exposes persistence helpers for notifications.
type Repository interface {
	CreateIfAbsent(ctx context.Context, notification *models.Notification) (*models.Notification, bool, error)
	AssignRecipient(ctx context.Context, id, userID uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	ListStuck(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.Notification, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn}
}

// CreateIfAbsent stores notification unless its dedupe key is already taken, in which case
// the stored row is returned instead.
func (r *repositoryImpl) CreateIfAbsent(ctx context.Context, notification *models.Notification) (*models.Notification, bool, error) {
	existing, err := r.findByDedupeKey(ctx, notification.DedupeKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := r.db.WithContext(ctx).Create(notification).Error; err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, false, err
		}
		existing, findErr := r.findByDedupeKey(ctx, notification.DedupeKey)
		if findErr != nil || existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return notification, true, nil
}

func (r *repositoryImpl) findByDedupeKey(ctx context.Context, key string) (*models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).Take(&notification).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *repositoryImpl) AssignRecipient(ctx context.Context, id, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"user_id":  userID,
			"degraded": false,
		}).Error
}

func (r *repositoryImpl) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.NotificationStatusSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nil,
			"sent_at":    at,
		}).Error
}

func (r *repositoryImpl) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = pkgerrors.Truncate(cause.Error(), lastErrorLimit)
	}
	return r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.NotificationStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
}

// ListStuck returns addressed notifications that are still pending or failed, untouched since before and
// below maxAttempts, oldest first.
func (r *repositoryImpl) ListStuck(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.Notification, error) {
	var rows []models.Notification
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.NotificationStatus{enums.NotificationStatusPending, enums.NotificationStatusFailed}).
		Where("attempts < ?", maxAttempts).
		Where("updated_at < ?", before).
		Where("user_id IS NOT NULL OR student_id IS NOT NULL").
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

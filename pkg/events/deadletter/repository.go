// Package deadletter persists messages a consumer stopped retrying.
package deadletter

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/db/models"
	"github.com/medtrack/medtrack-backend/pkg/enums"
	pkgerrors "github.com/medtrack/medtrack-backend/pkg/errors"
	"github.com/medtrack/medtrack-backend/pkg/pagination"
)

const (
	maxErrorLen  = 1024
	defaultLimit = 50
)

// Recorder is the write side used by the consumer loop.
type Recorder interface {
	Record(ctx context.Context, entry models.DeadLetter) error
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record stores entry, truncating the error text.
func (r *Repository) Record(ctx context.Context, entry models.DeadLetter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return insert(r.db.WithContext(ctx), entry)
}

func insert(tx *gorm.DB, entry models.DeadLetter) error {
	if strings.TrimSpace(entry.Queue) == "" {
		return errors.New("queue is required")
	}
	if !entry.Reason.IsValid() {
		return errors.New("dead letter reason is invalid")
	}
	if entry.Body == nil {
		entry.Body = []byte{}
	}
	if entry.ErrorMessage != nil {
		msg := pkgerrors.Truncate(*entry.ErrorMessage, maxErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns the most recent dead letter for eventID, or nil when none exists.
func (r *Repository) FindByEventID(ctx context.Context, eventID string) (*models.DeadLetter, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var row models.DeadLetter
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("failed_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ListFilter narrows List; zero values mean no filter.
type ListFilter struct {
	Queue  string
	Reason enums.DeadLetterReason
	Limit  int
	// Cursor resumes a listing after the row it points at.
	Cursor *pagination.Cursor
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.DeadLetter, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	query := r.db.WithContext(ctx).Model(&models.DeadLetter{})
	if filter.Queue != "" {
		query = query.Where("queue = ?", filter.Queue)
	}
	if filter.Reason != "" {
		query = query.Where("reason = ?", filter.Reason)
	}
	if c := filter.Cursor; c != nil {
		query = query.Where("(failed_at < ? OR (failed_at = ? AND id < ?))", c.At, c.At, c.ID)
	}
	var rows []models.DeadLetter
	err := query.
		Order("failed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Page lists one page of dead letters, newest first, with the cursor of the next page.
func (r *Repository) Page(ctx context.Context, filter ListFilter) (pagination.Page[models.DeadLetter], error) {
	limit := filter.Limit
	filter.Limit = pagination.LimitWithBuffer(limit)
	rows, err := r.List(ctx, filter)
	if err != nil {
		return pagination.Page[models.DeadLetter]{}, err
	}
	return pagination.Trim(rows, limit, func(row models.DeadLetter) pagination.Cursor {
		return pagination.Cursor{At: row.FailedAt, ID: row.ID}
	}), nil
}

// DeleteOlderThan removes records that failed before cutoff and returns how many were removed.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("failed_at < ?", cutoff).Delete(&models.DeadLetter{})
	return result.RowsAffected, result.Error
}

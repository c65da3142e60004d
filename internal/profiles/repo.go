package profiles

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
)

// Repository persists the profiles provisioned from identity events.
type Repository interface {
	CreateStudent(ctx context.Context, student *models.Student) (*models.Student, bool, error)
	CreateEncadrant(ctx context.Context, encadrant *models.Encadrant) (*models.Encadrant, bool, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Student, []models.Encadrant, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a profiles repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn}
}

// CreateStudent inserts student unless one already exists for its user. The stored row is
// returned together with whether this call created it.
func (r *repositoryImpl) CreateStudent(ctx context.Context, student *models.Student) (*models.Student, bool, error) {
	return createIfAbsent(ctx, r.db, student, student.UserID)
}

func (r *repositoryImpl) CreateEncadrant(ctx context.Context, encadrant *models.Encadrant) (*models.Encadrant, bool, error) {
	return createIfAbsent(ctx, r.db, encadrant, encadrant.UserID)
}

func (r *repositoryImpl) FindByUser(ctx context.Context, userID uuid.UUID) ([]models.Student, []models.Encadrant, error) {
	var (
		students   []models.Student
		encadrants []models.Encadrant
	)
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&students).Error; err != nil {
		return nil, nil, err
	}
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&encadrants).Error; err != nil {
		return nil, nil, err
	}
	return students, encadrants, nil
}

// DeleteByUser removes every student and encadrant row of userID in one transaction.
func (r *repositoryImpl) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.Student{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.Encadrant{}).Error
	})
}

// createIfAbsent reads by user id first and falls back to a re-read when a competing consumer
// wins the insert race on the unique user index.
func createIfAbsent[T any](ctx context.Context, conn *gorm.DB, row *T, userID uuid.UUID) (*T, bool, error) {
	existing, err := findByUser[T](ctx, conn, userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := conn.WithContext(ctx).Create(row).Error; err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, false, err
		}
		existing, findErr := findByUser[T](ctx, conn, userID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return row, true, nil
}

func findByUser[T any](ctx context.Context, conn *gorm.DB, userID uuid.UUID) (*T, error) {
	var row T
	err := conn.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

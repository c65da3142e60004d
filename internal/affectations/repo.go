package affectations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medtrack/medtrack-backend/pkg/db"
	"github.com/medtrack/medtrack-backend/pkg/db/models"
)

// Repository persists affectations keyed by the application they place.
type Repository interface {
	CreateIfAbsent(ctx context.Context, affectation *models.Affectation) (*models.Affectation, bool, error)
	FindByApplication(ctx context.Context, applicationID uuid.UUID) (*models.Affectation, error)
	OfferTitle(ctx context.Context, offerID uuid.UUID) (string, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn}
}

func (r *repositoryImpl) CreateIfAbsent(ctx context.Context, affectation *models.Affectation) (*models.Affectation, bool, error) {
	existing, err := r.FindByApplication(ctx, affectation.ApplicationID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := r.db.WithContext(ctx).Create(affectation).Error; err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, false, err
		}
		// a competing consumer inserted it first
		existing, findErr := r.FindByApplication(ctx, affectation.ApplicationID)
		if findErr != nil || existing == nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return affectation, true, nil
}

func (r *repositoryImpl) FindByApplication(ctx context.Context, applicationID uuid.UUID) (*models.Affectation, error) {
	var affectation models.Affectation
	err := r.db.WithContext(ctx).Where("application_id = ?", applicationID).Take(&affectation).Error
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &affectation, nil
}

// OfferTitle returns the locally known title of an offer, or "" when the offer is unknown.
func (r *repositoryImpl) OfferTitle(ctx context.Context, offerID uuid.UUID) (string, error) {
	var offer models.Offer
	err := r.db.WithContext(ctx).Select("title").Where("id = ?", offerID).Take(&offer).Error
	if db.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return offer.Title, nil
}

package fulfillments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, fulfillment *models.Fulfillment) error {
	return r.db.WithContext(ctx).Create(fulfillment).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Fulfillment, error) {
	var fulfillment models.Fulfillment
	if err := r.db.WithContext(ctx).First(&fulfillment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fulfillment, nil
}

// Confirm stamps a CLAIMED fulfillment as CONFIRMED. It reports whether the row
// was still CLAIMED.
func (r *Repository) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Fulfillment{}).
		Where("id = ? AND status = ?", id, enums.FulfillmentStatusClaimed).
		Updates(map[string]any{
			"status":       enums.FulfillmentStatusConfirmed,
			"confirmed_at": at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.FulfillmentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Fulfillment{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// ListByFulfiller returns the fulfiller's claims newest first with the request and
// its payment attached.
func (r *Repository) ListByFulfiller(ctx context.Context, fulfillerID uuid.UUID) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	err := r.db.WithContext(ctx).
		Preload("Request").
		Preload("Request.Payment").
		Where("fulfiller_id = ?", fulfillerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

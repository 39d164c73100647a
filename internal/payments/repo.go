package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// Repository persists payment rows. Status writes are conditional on the status
// the caller observed so a stale writer changes nothing.
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

func (r *Repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *Repository) FindByRequestID(ctx context.Context, requestID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *Repository) FindByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "provider_intent_id = ?", intentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// SetIntent stores the provider intent while the payment is still PENDING.
func (r *Repository) SetIntent(ctx context.Context, id uuid.UUID, intentID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Update("provider_intent_id", intentID)
	return res.RowsAffected > 0, res.Error
}

// Transition moves the payment from -> to and applies extra column updates in the
// same statement. It reports whether the row was still in from.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ListUnsettled returns payments with an intent that are still waiting on the
// gateway and have not been touched since before cutoff.
func (r *Repository) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusPreAuthorized}).
		Where("provider_intent_id IS NOT NULL").
		Where("updated_at <= ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
)

// Repository reads and appends the payout ledger. Balances are always derived
// from fulfillments, payouts and reversals; nothing here stores a running total.
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

func (r *Repository) Create(ctx context.Context, payout *models.FulfillerPayout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

// RecordTransfer stores the provider transfer id on a pending payout.
func (r *Repository) RecordTransfer(ctx context.Context, id uuid.UUID, transferID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FulfillerPayout{}).
		Where("id = ? AND provider_transfer_id = ''", id).
		Update("provider_transfer_id", transferID)
	return res.RowsAffected > 0, res.Error
}

// MarkFailed closes a pending payout whose gateway transfer was rejected. The
// row stays in the ledger but stops counting as transferred.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FulfillerPayout{}).
		Where("id = ? AND provider_transfer_id = '' AND failed_at IS NULL", id).
		Update("failed_at", at)
	return res.RowsAffected > 0, res.Error
}

// FindByIDForUpdate row-locks a payout and reads its reversals under the lock.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.FulfillerPayout, error) {
	var payout models.FulfillerPayout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&payout, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("payout_id = ?", id).Find(&payout.Reversals).Error; err != nil {
		return nil, err
	}
	return &payout, nil
}

// ListByFulfiller returns the fulfiller's payouts newest first with their reversals.
func (r *Repository) ListByFulfiller(ctx context.Context, fulfillerID uuid.UUID) ([]models.FulfillerPayout, error) {
	var rows []models.FulfillerPayout
	err := r.db.WithContext(ctx).
		Preload("Reversals").
		Where("fulfiller_id = ?", fulfillerID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

// CountEarned counts confirmed fulfillments whose payment was released.
func (r *Repository) CountEarned(ctx context.Context, fulfillerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Fulfillment{}).
		Joins("JOIN payments ON payments.request_id = fulfillments.request_id").
		Where("fulfillments.fulfiller_id = ?", fulfillerID).
		Where("fulfillments.status = ?", enums.FulfillmentStatusConfirmed).
		Where("payments.status = ?", enums.PaymentStatusReleased).
		Count(&count).Error
	return count, err
}

func (r *Repository) SumPayouts(ctx context.Context, fulfillerID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.FulfillerPayout{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("fulfiller_id = ? AND failed_at IS NULL", fulfillerID).
		Scan(&total).Error
	return total, err
}

// SumReversals totals every reversal clawed back from the fulfiller's payouts.
func (r *Repository) SumReversals(ctx context.Context, fulfillerID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.DisputeReversal{}).
		Select("COALESCE(SUM(dispute_reversals.amount_cents), 0)").
		Joins("JOIN fulfiller_payouts ON fulfiller_payouts.id = dispute_reversals.payout_id").
		Where("fulfiller_payouts.fulfiller_id = ?", fulfillerID).
		Scan(&total).Error
	return total, err
}

// ListEarnings returns the fulfillments counted by CountEarned, most recently
// confirmed first, with the request preloaded.
func (r *Repository) ListEarnings(ctx context.Context, fulfillerID uuid.UUID) ([]models.Fulfillment, error) {
	var rows []models.Fulfillment
	err := r.db.WithContext(ctx).
		Preload("Request").
		Joins("JOIN payments ON payments.request_id = fulfillments.request_id").
		Where("fulfillments.fulfiller_id = ?", fulfillerID).
		Where("fulfillments.status = ?", enums.FulfillmentStatusConfirmed).
		Where("payments.status = ?", enums.PaymentStatusReleased).
		Order("fulfillments.confirmed_at DESC").
		Find(&rows).Error
	return rows, err
}

package disputes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/pagination"
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

func (r *Repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

// FindByID loads a dispute with its request, the request's fulfillment and
// payment, and any reversals already made.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Preload("Request").
		Preload("Request.Fulfillment").
		Preload("Request.Payment").
		Preload("Reversals").
		First(&dispute, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &dispute, nil
}

// Resolve moves a PENDING dispute to status. It reports whether the dispute was
// still PENDING.
func (r *Repository) Resolve(ctx context.Context, id uuid.UUID, status enums.DisputeStatus, resolverID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, enums.DisputeStatusPending).
		Updates(map[string]any{
			"status":         status,
			"resolved_by_id": resolverID,
			"resolved_at":    at,
		})
	return res.RowsAffected > 0, res.Error
}

// ClaimApproval marks a PENDING dispute as being approved. A claim older than
// staleBefore is treated as abandoned and can be taken over.
func (r *Repository) ClaimApproval(ctx context.Context, id uuid.UUID, at, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, enums.DisputeStatusPending).
		Where("approval_started_at IS NULL OR approval_started_at < ?", staleBefore).
		Update("approval_started_at", at)
	return res.RowsAffected > 0, res.Error
}

// ReleaseApproval drops the approval claim on a dispute that is still PENDING.
func (r *Repository) ReleaseApproval(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, enums.DisputeStatusPending).
		Update("approval_started_at", nil).Error
}

func (r *Repository) CreateReversal(ctx context.Context, reversal *models.DisputeReversal) error {
	return r.db.WithContext(ctx).Create(reversal).Error
}

// ReversedForDispute totals what has already been clawed back for a dispute.
func (r *Repository) ReversedForDispute(ctx context.Context, disputeID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.DisputeReversal{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("dispute_id = ?", disputeID).
		Scan(&total).Error
	return total, err
}

// ListAll pages through disputes newest first, optionally filtered by status.
func (r *Repository) ListAll(ctx context.Context, limit int, cursor *pagination.Cursor, status *enums.DisputeStatus) ([]models.Dispute, error) {
	query := r.db.WithContext(ctx).
		Preload("Request").
		Preload("Request.Fulfillment").
		Preload("Request.Payment").
		Preload("Reversals")
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Dispute
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error
	return rows, err
}

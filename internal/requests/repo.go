package requests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	"github.com/angelmondragon/mealrun-backend/pkg/pagination"
)

// Repository persists meal requests. Other lifecycle packages reuse it to lock
// the request row that anchors their transaction.
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

func (r *Repository) Create(ctx context.Context, request *models.MealRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

// FindByID loads a request with its fulfillment, payment and dispute.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.MealRequest, error) {
	var request models.MealRequest
	err := withRelations(r.db.WithContext(ctx)).
		First(&request, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByIDForUpdate row-locks the request and loads its related records.
// Related rows are read inside the same transaction, so they are stable while the
// request lock is held.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.MealRequest, error) {
	var request models.MealRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&request, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, &request); err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *Repository) loadRelations(ctx context.Context, request *models.MealRequest) error {
	db := r.db.WithContext(ctx)

	var fulfillment models.Fulfillment
	if err := db.Where("request_id = ?", request.ID).Limit(1).Find(&fulfillment).Error; err != nil {
		return err
	}
	if fulfillment.ID != uuid.Nil {
		request.Fulfillment = &fulfillment
	}

	var payment models.Payment
	if err := db.Where("request_id = ?", request.ID).Limit(1).Find(&payment).Error; err != nil {
		return err
	}
	if payment.ID != uuid.Nil {
		request.Payment = &payment
	}

	var dispute models.Dispute
	if err := db.Where("request_id = ?", request.ID).Limit(1).Find(&dispute).Error; err != nil {
		return err
	}
	if dispute.ID != uuid.Nil {
		request.Dispute = &dispute
	}
	return nil
}

// SetReservation writes (or clears, with nil values) the reservation lease.
func (r *Repository) SetReservation(ctx context.Context, id uuid.UUID, fulfillerID *uuid.UUID, at *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.MealRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"reserved_by_id": fulfillerID,
			"reserved_at":    at,
		}).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.MealRequestStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.MealRequest{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// UpdateStatusFrom moves the request to next only while it is still in from.
// It reports whether a row changed.
func (r *Repository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, next enums.MealRequestStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.MealRequest{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", next)
	return res.RowsAffected > 0, res.Error
}

// ListAvailable returns pending requests the caller may reserve: not their own and
// not under another fulfiller's lease that started after expiredBefore.
func (r *Repository) ListAvailable(ctx context.Context, callerID uuid.UUID, expiredBefore time.Time) ([]models.MealRequest, error) {
	var rows []models.MealRequest
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.MealRequestStatusPending).
		Where("requester_id <> ?", callerID).
		Where("reserved_by_id IS NULL OR reserved_by_id = ? OR reserved_at <= ?", callerID, expiredBefore).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]models.MealRequest, error) {
	var rows []models.MealRequest
	err := withRelations(r.db.WithContext(ctx)).
		Where("requester_id = ?", requesterID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

// ListAll pages through every request newest first, optionally filtered by status.
func (r *Repository) ListAll(ctx context.Context, limit int, cursor *pagination.Cursor, status *enums.MealRequestStatus) ([]models.MealRequest, error) {
	query := withRelations(r.db.WithContext(ctx))
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.MealRequest
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&rows).Error
	return rows, err
}

func withRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Fulfillment").
		Preload("Payment").
		Preload("Dispute")
}

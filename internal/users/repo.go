package users

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
)

// Repository mirrors identity-provider users and stores their payout destination.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to tx; a nil tx keeps the current handle.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.find(ctx, id, false)
}

// FindByIDForUpdate row-locks the user for the rest of the caller's transaction.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.find(ctx, id, true)
}

func (r *Repository) find(ctx context.Context, id uuid.UUID, lock bool) (*models.User, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user models.User
	if err := q.Where("id = ?", id).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Ensure inserts the mirror row unless one with the same id or email exists.
func (r *Repository) Ensure(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(user).Error
}

// UpdateEmail resyncs the mirrored email after the identity provider changed it.
func (r *Repository) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	return r.updateColumn(ctx, id, "email", email)
}

// SetPayoutAccount stores the connected gateway account for the user.
func (r *Repository) SetPayoutAccount(ctx context.Context, id uuid.UUID, accountID string) error {
	return r.updateColumn(ctx, id, "payout_account_id", accountID)
}

func (r *Repository) updateColumn(ctx context.Context, id uuid.UUID, column string, value any) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

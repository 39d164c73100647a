package users

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/mealrun-backend/pkg/auth"
	"github.com/angelmondragon/mealrun-backend/pkg/db"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
)

// Service mirrors authenticated identities into the users table.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repository required")
	}
	return &Service{repo: repo}, nil
}

// Provision makes sure a row exists for the identity carried by a valid token,
// so foreign keys from domain records resolve.
func (s *Service) Provision(ctx context.Context, identity auth.Identity) (*models.User, error) {
	existing, err := s.repo.FindByID(ctx, identity.UserID)
	if err == nil {
		return s.syncEmail(ctx, existing, identity.Email)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}

	user := &models.User{
		ID:    identity.UserID,
		Email: auth.NormalizeEmail(identity.Email),
		Name:  displayName(identity.Email),
	}
	if err := s.repo.Ensure(ctx, user); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "provision user")
	}
	created, err := s.repo.FindByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already linked to another account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return created, nil
}

// syncEmail follows an email change made at the identity provider.
func (s *Service) syncEmail(ctx context.Context, user *models.User, tokenEmail string) (*models.User, error) {
	email := auth.NormalizeEmail(tokenEmail)
	if email == "" || email == user.Email {
		return user, nil
	}
	if err := s.repo.UpdateEmail(ctx, user.ID, email); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already linked to another account")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update user email")
	}
	user.Email = email
	return user, nil
}

func displayName(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return local
}

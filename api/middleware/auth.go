package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/api/validators"
	pkgAuth "github.com/angelmondragon/mealrun-backend/pkg/auth"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

// Provisioner mirrors a token identity into the users table.
type Provisioner interface {
	Provision(ctx context.Context, identity pkgAuth.Identity) (*models.User, error)
}

// Auth validates the identity provider's bearer token, provisions the caller and
// seeds the request context with the identity and the admin flag.
func Auth(cfg config.JWTConfig, users Provisioner, isAdmin pkgAuth.AdminPredicate, logg *logger.Logger) func(http.Handler) http.Handler {
	if isAdmin == nil {
		isAdmin = pkgAuth.DenyAll
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := validators.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			identity := claims.Identity()

			if users != nil {
				if _, err := users.Provision(r.Context(), identity); err != nil {
					responses.WriteError(r.Context(), logg, w, err)
					return
				}
			}

			admin := isAdmin(identity)
			ctx := WithCaller(r.Context(), Caller{
				UserID: identity.UserID.String(),
				Email:  identity.Email,
				Admin:  admin,
			})

			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"user_id":  identity.UserID.String(),
					"is_admin": admin,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

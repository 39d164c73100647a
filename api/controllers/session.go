package controllers

import (
	"net/http"

	"github.com/angelmondragon/mealrun-backend/api/middleware"
	"github.com/angelmondragon/mealrun-backend/api/responses"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

// SessionDTO tells the client who is signed in and whether to show admin tools.
type SessionDTO struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// Me reports the authenticated caller. Admin status comes from the same email
// allow-list RequireAdmin enforces.
func Me(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok || caller.UserID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
			return
		}
		responses.WriteSuccess(w, SessionDTO{
			UserID:  caller.UserID,
			Email:   caller.Email,
			IsAdmin: caller.Admin,
		})
	}
}

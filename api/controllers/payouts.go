package controllers

import (
	"net/http"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/api/validators"
	"github.com/angelmondragon/mealrun-backend/internal/payouts"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

type transferBody struct {
	AmountCents *int64 `json:"amount_cents" validate:"omitempty,gte=1"`
}

type onboardingBody struct {
	ReturnURL  string `json:"return_url" validate:"omitempty,url"`
	RefreshURL string `json:"refresh_url" validate:"omitempty,url"`
}

// OnboardingDefaults are used when the client omits redirect URLs.
type OnboardingDefaults struct {
	ReturnURL  string
	RefreshURL string
}

func PayoutBalance(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "payouts")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}

		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// PayoutTransfer moves earnings to the caller's connected account. An empty body
// transfers the whole available balance.
func PayoutTransfer(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "payouts")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}

		var body transferBody
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Transfer(r.Context(), payouts.TransferInput{
			FulfillerID: userID,
			AmountCents: body.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payout)
	}
}

func PayoutOnboarding(svc payouts.Service, defaults OnboardingDefaults, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "payouts")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}

		var body onboardingBody
		if err := validators.DecodeOptionalJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.ReturnURL == "" {
			body.ReturnURL = defaults.ReturnURL
		}
		if body.RefreshURL == "" {
			body.RefreshURL = defaults.RefreshURL
		}

		link, err := svc.Onboard(r.Context(), payouts.OnboardInput{
			FulfillerID: userID,
			ReturnURL:   body.ReturnURL,
			RefreshURL:  body.RefreshURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, link)
	}
}

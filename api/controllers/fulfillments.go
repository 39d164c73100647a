package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/api/validators"
	"github.com/angelmondragon/mealrun-backend/internal/fulfillments"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

type claimBody struct {
	EvidenceUploadID uuid.UUID `json:"evidence_upload_id" validate:"required"`
}

// ClaimMealRequest records the fulfiller's proof of purchase against a reservation.
func ClaimMealRequest(svc fulfillments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "fulfillments")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "requestId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body claimBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Claim(r.Context(), fulfillments.ClaimInput{
			RequestID:        requestID,
			FulfillerID:      userID,
			EvidenceUploadID: body.EvidenceUploadID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

func ConfirmReceipt(svc fulfillments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "fulfillments")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		fulfillmentID, err := validators.ParseUUIDParam(r, "fulfillmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.ConfirmReceipt(r.Context(), fulfillmentID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

func ListMyFulfillments(svc fulfillments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "fulfillments")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}

		list, err := svc.ListMine(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"fulfillments": list})
	}
}

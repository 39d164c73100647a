package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/api/middleware"
	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/api/validators"
	"github.com/angelmondragon/mealrun-backend/internal/disputes"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

type openDisputeBody struct {
	Reason      string      `json:"reason" validate:"notblank,max=2000"`
	EvidenceIDs []uuid.UUID `json:"evidence_ids" validate:"required,min=1,max=10"`
}

func OpenDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "disputes")
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

		var body openDisputeBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Open(r.Context(), disputes.OpenInput{
			RequestID:   requestID,
			RequesterID: userID,
			Reason:      body.Reason,
			EvidenceIDs: body.EvidenceIDs,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto)
	}
}

// GetDispute is visible to the requester, the order's fulfiller and operators.
func GetDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "disputes")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Get(r.Context(), disputeID, userID, middleware.IsAdminFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

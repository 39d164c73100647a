package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/api/validators"
	"github.com/angelmondragon/mealrun-backend/internal/disputes"
	"github.com/angelmondragon/mealrun-backend/internal/requests"
	"github.com/angelmondragon/mealrun-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

// AdminListOrders pages through every meal request, newest first.
func AdminListOrders(svc requests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "requests")
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.MealRequestStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseMealRequestStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}

		page, err := svc.ListAll(r.Context(), params, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminListDisputes(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "disputes")
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var status *enums.DisputeStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseDisputeStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = &parsed
		}

		page, err := svc.ListAll(r.Context(), params, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminApproveDispute refunds the requester and claws back the fulfiller's transfer.
func AdminApproveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return resolveDispute(svc, logg, disputes.Service.Approve)
}

func AdminDenyDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return resolveDispute(svc, logg, disputes.Service.Deny)
}

type disputeResolver func(disputes.Service, context.Context, uuid.UUID, uuid.UUID) (*disputes.DisputeDTO, error)

func resolveDispute(svc disputes.Service, logg *logger.Logger, resolve disputeResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "disputes")
			return
		}
		adminID, ok := callerID(w, r, logg)
		if !ok {
			return
		}
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := resolve(svc, r.Context(), disputeID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

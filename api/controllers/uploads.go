package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/api/validators"
	"github.com/angelmondragon/mealrun-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const (
	uploadFormField = "file"
	multipartSlack  = 64 << 10
)

type uploadService interface {
	Store(ctx context.Context, uploaderID uuid.UUID, data []byte) (*models.Upload, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Upload, error)
	MaxBytes() int64
}

type uploadDTO struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url"`
}

// CreateUpload stores one image from the multipart "file" field.
func CreateUpload(svc uploadService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "uploads")
			return
		}
		userID, ok := callerID(w, r, logg)
		if !ok {
			return
		}

		maxBytes := svc.MaxBytes()
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)
		if err := r.ParseMultipartForm(maxBytes + multipartSlack); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("images must be under %dMB", maxBytes/(1024*1024))))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "multipart form required"))
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, _, err := r.FormFile(uploadFormField)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "image is required"))
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read image"))
			return
		}

		upload, err := svc.Store(r.Context(), userID, data)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, uploadDTO{
			ID:          upload.ID,
			ContentType: upload.ContentType,
			SizeBytes:   upload.SizeBytes,
			URL:         "/api/v1/uploads/" + upload.ID.String(),
		})
	}
}

// GetUpload streams the stored image bytes.
func GetUpload(svc uploadService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceMissing(w, r, logg, "uploads")
			return
		}
		if _, ok := callerID(w, r, logg); !ok {
			return
		}
		uploadID, err := validators.ParseUUIDParam(r, "uploadId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		upload, err := svc.Get(r.Context(), uploadID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Content-Type", upload.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(int64(len(upload.Data)), 10))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(upload.Data)
	}
}

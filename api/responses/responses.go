package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

// echoedCodes are the codes whose service message is safe to show the caller.
var echoedCodes = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeValidation:   {},
	pkgerrors.CodeForbidden:    {},
	pkgerrors.CodeUnauthorized: {},
	pkgerrors.CodeNotFound:     {},
	pkgerrors.CodeConflict:     {},
	pkgerrors.CodeIdempotency:  {},
	pkgerrors.CodeRateLimit:    {},
}

// Body is the JSON shape of a successful response.
type Body struct {
	Data any `json:"data"`
}

// ErrorBody is the JSON shape of a failed response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

var fallbackErrorBody = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}` + "\n")

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Body{Data: data})
}

// WriteError renders err in the error envelope and logs it with its cause chain.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	detail := ErrorDetail{Code: string(typed.Code()), Message: publicMessage(typed, meta)}
	if meta.DetailsAllowed {
		detail.Details = typed.Details()
	}

	logRejection(ctx, logg, err, meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, ErrorBody{Error: detail})
}

func publicMessage(typed *pkgerrors.Error, meta pkgerrors.Metadata) string {
	if _, ok := echoedCodes[typed.Code()]; ok && typed.Message() != "" {
		return typed.Message()
	}
	return meta.PublicMessage
}

func logRejection(ctx context.Context, logg *logger.Logger, err error, status int) {
	if logg == nil {
		return
	}
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"error_chain": dump.Chain,
		"http_status": status,
		"retryable":   dump.Retryable,
	}
	if dump.PGFields.Code != "" {
		fields["pg_code"] = dump.PGFields.Code
		fields["pg_detail"] = dump.Detail
		fields["pg_constraint"] = dump.Constraint
	}
	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

// writeJSON encodes before touching the response so an unencodable payload
// still yields a well-formed 500.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	var buf bytes.Buffer
	body := fallbackErrorBody
	if err := json.NewEncoder(&buf).Encode(payload); err == nil {
		body = buf.Bytes()
	} else {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

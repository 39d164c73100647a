package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body Body
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "world", body.Data.(map[string]any)["hello"])
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "reason"})
	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, string(pkgerrors.CodeValidation), apiErr.Code)
	assert.Equal(t, "bad input", apiErr.Message)
	assert.NotNil(t, apiErr.Details)
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   pkgerrors.Code
	}{
		{"untyped", errors.New("boom"), http.StatusInternalServerError, pkgerrors.CodeInternal},
		{"gateway", pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New("card_declined"), "refund payment"), http.StatusBadGateway, pkgerrors.CodeGateway},
		{"insufficient balance", pkgerrors.New(pkgerrors.CodeInsufficientBalance, "transfer to fulfiller"), http.StatusConflict, pkgerrors.CodeInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, tc.err)
			assert.Equal(t, tc.status, w.Code)
			apiErr := decodeError(t, w)
			assert.Equal(t, string(tc.code), apiErr.Code)
			assert.Equal(t, pkgerrors.MetadataFor(tc.code).PublicMessage, apiErr.Message)
		})
	}
}

func TestWriteErrorKeepsConflictMessage(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeConflict, "reservation expired"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "reservation expired", decodeError(t, w).Message)
}

func TestWriteSuccessFallsBackWhenPayloadCannotEncode(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(pkgerrors.CodeInternal), decodeError(t, w).Code)
}

func TestWriteErrorOmitsDetailsForInternalCodes(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeInternal, "db down").WithDetails(map[string]string{"host": "10.0.0.1"})
	WriteError(context.Background(), nil, w, err)

	apiErr := decodeError(t, w)
	assert.Nil(t, apiErr.Details)
	assert.Equal(t, "internal server error", apiErr.Message)
}

package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLoggingRecordsCallerSetDownstream(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api", Level: zerolog.InfoLevel, Format: logger.FormatJSON, Output: &buf})

	authenticate := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), Caller{UserID: "user-7"})))
		})
	}

	router := chi.NewRouter()
	router.Use(Logging(logg))
	router.With(authenticate).Get("/api/v1/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/requests/abc", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	entry := lastLogLine(t, &buf)
	assert.Equal(t, "request.complete", entry["message"])
	assert.Equal(t, "user-7", entry["user_id"])
	assert.Equal(t, "/api/v1/requests/{id}", entry["route"])
	assert.Equal(t, "/api/v1/requests/abc", entry["path"])
	assert.EqualValues(t, http.StatusAccepted, entry["status"])
	assert.EqualValues(t, 2, entry["bytes"])
}

func TestLoggingWarnsOnServerError(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "api", Format: logger.FormatJSON, Output: &buf})

	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/requests", nil))

	entry := lastLogLine(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "request.failed", entry["message"])
	assert.NotContains(t, entry, "user_id")
}

func TestCallerHelpersKeepOtherFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := WithCaller(req.Context(), Caller{UserID: "u1", Email: "a@vt.edu"})
	ctx = WithAdmin(ctx, true)

	caller, ok := CallerFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, Caller{UserID: "u1", Email: "a@vt.edu", Admin: true}, caller)

	_, ok = CallerFromContext(req.Context())
	assert.False(t, ok)
}

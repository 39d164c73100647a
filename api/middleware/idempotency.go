package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/mealrun-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = time.Minute

	maxIdempotencyKeyLength = 255
)

// idempotencyRoutes maps POST path patterns (path.Match syntax) to how long a
// response is replayable. Money-moving and state-advancing routes keep theirs
// for a week.
var idempotencyRoutes = []struct {
	pattern string
	ttl     time.Duration
}{
	{"/api/v1/requests", defaultIdempotencyTTL},
	{"/api/v1/uploads", defaultIdempotencyTTL},
	{"/api/v1/payouts/onboarding", defaultIdempotencyTTL},
	{"/api/v1/requests/*/claim", criticalIdempotencyTTL},
	{"/api/v1/requests/*/payment/authorize", criticalIdempotencyTTL},
	{"/api/v1/requests/*/payment/capture", criticalIdempotencyTTL},
	{"/api/v1/requests/*/cancel", criticalIdempotencyTTL},
	{"/api/v1/requests/*/disputes", criticalIdempotencyTTL},
	{"/api/v1/fulfillments/*/confirm", criticalIdempotencyTTL},
	{"/api/v1/payouts/transfer", criticalIdempotencyTTL},
	{"/api/admin/v1/disputes/*/approve", criticalIdempotencyTTL},
	{"/api/admin/v1/disputes/*/deny", criticalIdempotencyTTL},
}

type idempotencyRecord struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response when a client retries a mutating
// route with the same Idempotency-Key. Requests without the header pass
// through. A second request arriving while the first is still running gets a
// conflict, and server failures are not stored so a retry reaches the handler.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if !ok || store == nil || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxIdempotencyKeyLength {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scope := requestScope(r)
			key := store.IdempotencyKey(scope, clientKey)
			requestHash := hashBody(body)

			record, err := loadRecord(ctx, store, key)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if record != nil {
				if record.RequestHash != requestHash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				record.replay(w)
				return
			}

			lockKey := store.IdempotencyKey(scope+"|in-flight", clientKey)
			acquired, err := store.SetNX(ctx, lockKey, requestHash, inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !acquired {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
				return
			}
			defer func() {
				if delErr := store.Del(context.WithoutCancel(ctx), lockKey); delErr != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", delErr)
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			if capture.statusCode() >= http.StatusInternalServerError {
				return
			}

			payload, err := json.Marshal(idempotencyRecord{
				Status:      capture.statusCode(),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
				ContentType: capture.Header().Get("Content-Type"),
				RequestHash: requestHash,
			})
			if err == nil {
				_, err = store.SetNX(context.WithoutCancel(ctx), key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func loadRecord(ctx context.Context, store pkgredis.IdempotencyStore, key string) (*idempotencyRecord, error) {
	stored, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil), err == nil && stored == "":
		return nil, nil
	case err != nil:
		return nil, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (rec *idempotencyRecord) replay(w http.ResponseWriter) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(rec.Status)
	if decoded, err := base64.StdEncoding.DecodeString(rec.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func routeTTL(method, urlPath string) (time.Duration, bool) {
	if method != http.MethodPost || urlPath == "" {
		return 0, false
	}
	for _, route := range idempotencyRoutes {
		if ok, _ := path.Match(route.pattern, urlPath); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Package writer streams lifecycle rows into BigQuery.
package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/mealrun-backend/internal/analytics"
)

// RetryPolicy bounds how long one row keeps the message open. Zero fields take
// the defaults of 3 attempts backing off from 250ms up to 2s.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 250 * time.Millisecond
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(2*time.Second, p.InitialBackoff)
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter inserts lifecycle rows, retrying transient API failures.
type BigQueryWriter struct {
	client tableInserter
	table  string
	policy RetryPolicy
}

func New(client tableInserter, table string, policy RetryPolicy) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("lifecycle table is required")
	}
	return &BigQueryWriter{client: client, table: table, policy: policy.withDefaults()}, nil
}

func (w *BigQueryWriter) Insert(ctx context.Context, row *analytics.LifecycleRow) error {
	if row == nil {
		return nil
	}
	rows := []any{row}
	err := retry.Do(ctx, w.policy.backoff(), func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s row %s: %w", w.table, row.EventID, err)
	}
	return nil
}

var (
	retryableHTTP = map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusRequestTimeout:      true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	retryableGRPC = map[codes.Code]bool{
		codes.Aborted:           true,
		codes.DeadlineExceeded:  true,
		codes.Internal:          true,
		codes.ResourceExhausted: true,
		codes.Unavailable:       true,
	}
)

// IsRetryable reports whether every underlying failure is transient. A
// PutMultiError is retryable only when no row failed permanently.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rowErrs cbigquery.PutMultiError
	if errors.As(err, &rowErrs) {
		return allRetryable(len(rowErrs), func(i int) error { return rowErrs[i].Errors })
	}
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(len(multi), func(i int) error { return multi[i] })
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}
	if st, ok := status.FromError(err); ok && st != nil {
		return retryableGRPC[st.Code()]
	}
	return false
}

func allRetryable(n int, at func(int) error) bool {
	if n == 0 {
		return false
	}
	for i := range n {
		if !IsRetryable(at(i)) {
			return false
		}
	}
	return true
}

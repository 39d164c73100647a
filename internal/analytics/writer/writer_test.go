package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/mealrun-backend/internal/analytics"
)

type fakeInserter struct {
	errs  []error
	calls int
	table string
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.calls++
	f.table = table
	if len(rows) != 1 {
		return fmt.Errorf("expected one row, got %d", len(rows))
	}
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaximumBackoff: 2 * time.Millisecond}
}

func TestInsertRetriesTransientErrors(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusServiceUnavailable}}}
	w, err := New(inserter, " lifecycle_events ", fastRetry())
	require.NoError(t, err)

	require.NoError(t, w.Insert(context.Background(), &analytics.LifecycleRow{EventID: "evt"}))
	assert.Equal(t, 2, inserter.calls)
	assert.Equal(t, "lifecycle_events", inserter.table)
}

func TestInsertStopsOnPermanentError(t *testing.T) {
	inserter := &fakeInserter{errs: []error{&googleapi.Error{Code: http.StatusBadRequest}}}
	w, err := New(inserter, "lifecycle_events", fastRetry())
	require.NoError(t, err)

	assert.Error(t, w.Insert(context.Background(), &analytics.LifecycleRow{EventID: "evt"}))
	assert.Equal(t, 1, inserter.calls)
}

func TestInsertGivesUpAfterMaxAttempts(t *testing.T) {
	transient := status.Error(codes.Unavailable, "try later")
	inserter := &fakeInserter{errs: []error{transient, transient, transient, transient}}
	w, err := New(inserter, "lifecycle_events", fastRetry())
	require.NoError(t, err)

	assert.Error(t, w.Insert(context.Background(), &analytics.LifecycleRow{EventID: "evt"}))
	assert.Equal(t, 3, inserter.calls)
}

func TestInsertNilRowIsNoop(t *testing.T) {
	inserter := &fakeInserter{}
	w, err := New(inserter, "lifecycle_events", RetryPolicy{})
	require.NoError(t, err)
	require.NoError(t, w.Insert(context.Background(), nil))
	assert.Zero(t, inserter.calls)
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "t", RetryPolicy{})
	assert.Error(t, err)
	_, err = New(&fakeInserter{}, " ", RetryPolicy{})
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, IsRetryable(status.Error(codes.InvalidArgument, "bad")))

	transientRow := cbigquery.PutMultiError{{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}}}
	assert.True(t, IsRetryable(transientRow))

	mixedRow := cbigquery.PutMultiError{{Errors: cbigquery.MultiError{
		&googleapi.Error{Code: http.StatusInternalServerError},
		&googleapi.Error{Code: http.StatusBadRequest},
	}}}
	assert.False(t, IsRetryable(mixedRow))
	assert.False(t, IsRetryable(cbigquery.PutMultiError{}))
}

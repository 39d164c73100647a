package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/mealrun-backend/pkg/logger"
	"github.com/angelmondragon/mealrun-backend/pkg/metrics"
)

func TestRequiredLogsAndCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	reg := prometheus.NewRegistry()
	reporter := NewReporter(logg, metrics.NewReconciliationMetrics(reg))

	reporter.Required(context.Background(), Entry{
		Operation:   OpRefund,
		RequestID:   "req-1",
		DisputeID:   "dsp-1",
		ProviderRef: "re_1",
	}, errors.New("commit failed"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "reconciliation.required", entry["message"])
	assert.Equal(t, "refund", entry["operation"])
	assert.Equal(t, "req-1", entry["meal_request_id"])
	assert.Equal(t, "dsp-1", entry["dispute_id"])
	assert.Equal(t, "re_1", entry["provider_ref"])
	assert.Equal(t, "commit failed", entry["error"])

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	assert.Equal(t, "mealrun_reconciliation_required_total", mfs[0].GetName())
	require.Len(t, mfs[0].GetMetric(), 1)
	assert.Equal(t, float64(1), mfs[0].GetMetric()[0].GetCounter().GetValue())
}

func TestNilReporterIsSafe(t *testing.T) {
	var reporter *Reporter
	reporter.Required(context.Background(), Entry{Operation: OpTransfer}, errors.New("x"))

	NewReporter(nil, nil).Required(context.Background(), Entry{Operation: OpTransfer}, nil)
}

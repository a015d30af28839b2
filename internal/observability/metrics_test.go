package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	// Each instance owns its registry, so creating two must not panic.
	a := NewMetrics("test_a")
	b := NewMetrics("test_a")

	a.ProbesTotal.WithLabelValues(OutcomeResolved).Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ProbesTotal.WithLabelValues(OutcomeResolved)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ProbesTotal.WithLabelValues(OutcomeResolved)))
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.RPCCallErrors.WithLabelValues("eth_test"))

	RecordRPCCall("eth_test", 0.01, nil)
	RecordRPCCall("eth_test", 0.02, errors.New("boom"))

	after := testutil.ToFloat64(DefaultMetrics.RPCCallErrors.WithLabelValues("eth_test"))
	assert.Equal(t, before+1, after)

	RecordPass(0.5, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(DefaultMetrics.RetrySetSize))

	RecordSnapshotRun("success", 1.2, 7, 1234)
	assert.Equal(t, 7.0, testutil.ToFloat64(DefaultMetrics.CredentialsEmitted))
	assert.Equal(t, 1234.0, testutil.ToFloat64(DefaultMetrics.LastSnapshotBlock))

	RecordSnapshotRun("failed", 0.1, 0, 0)
	assert.Equal(t, 7.0, testutil.ToFloat64(DefaultMetrics.CredentialsEmitted))
}

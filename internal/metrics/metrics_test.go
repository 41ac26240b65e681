package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObservePlanLabelsUnknownOutcomeAsSuccess(t *testing.T) {
	before := testutil.CollectAndCount(responsePlanSeconds)
	ObservePlan(-time.Second, "weird")
	ObservePlan(time.Second, OutcomeError)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(responsePlanSeconds), before)
}

func TestIncEventsOverflow(t *testing.T) {
	IncEventsOverflow("metrics-test")
	assert.Equal(t, 1.0, testutil.ToFloat64(eventsOverflowTotal.WithLabelValues("metrics-test")))
}

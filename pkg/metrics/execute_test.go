package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingObserver is an instrumentation hook standing in for a histogram.
type countingObserver struct {
	mu           sync.Mutex
	observations int
}

func (o *countingObserver) Observe(float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations++
}

func testInstruments() (Instruments, *countingObserver) {
	obs := &countingObserver{}
	return Instruments{
		Total:    prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total"}),
		Errors:   prometheus.NewCounter(prometheus.CounterOpts{Name: "test_errors"}),
		Duration: obs,
	}, obs
}

func TestExecuteWithMetrics_Success(t *testing.T) {
	ins, obs := testInstruments()

	err := ExecuteWithMetrics(context.Background(), ins, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(ins.Total))
	assert.Equal(t, 0.0, testutil.ToFloat64(ins.Errors))
	assert.Equal(t, 1, obs.observations)
}

func TestExecuteWithMetrics_ErrorCountedOnceAndReturnedUnchanged(t *testing.T) {
	ins, obs := testInstruments()
	boom := errors.New("boom")

	err := ExecuteWithMetrics(context.Background(), ins, func(ctx context.Context) error {
		return boom
	})
	assert.Same(t, boom, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(ins.Total))
	assert.Equal(t, 1.0, testutil.ToFloat64(ins.Errors))
	// the timer is stopped exactly once even on failure
	assert.Equal(t, 1, obs.observations)
}

func TestExecuteWithMetrics_LabeledCounters(t *testing.T) {
	ins, _ := testInstruments()
	ins.LabeledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_labeled_total"}, []string{"route"})
	ins.LabeledDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_labeled_duration"}, []string{"route"})

	err := ExecuteWithMetrics(context.Background(), ins, func(ctx context.Context) error {
		return nil
	}, "markets")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(ins.LabeledTotal.WithLabelValues("markets")))
	// exactly one labeled histogram child was created and observed
	assert.Equal(t, 1, testutil.CollectAndCount(ins.LabeledDuration))
}

func TestExecuteWithMetrics_NoLabelsSkipsLabeledInstruments(t *testing.T) {
	ins, _ := testInstruments()
	ins.LabeledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "test_unused_labeled_total"}, []string{"route"})

	err := ExecuteWithMetrics(context.Background(), ins, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 0, testutil.CollectAndCount(ins.LabeledTotal))
}

func TestExecuteWithMetrics_NilInstruments(t *testing.T) {
	// all-nil instruments must not panic
	err := ExecuteWithMetrics(context.Background(), Instruments{}, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

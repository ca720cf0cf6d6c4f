package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Instruments enumerates the counters and histograms ExecuteWithMetrics
// drives around a protected operation. Any field may be nil, in which case
// the corresponding measurement is skipped.
type Instruments struct {
	Total           prometheus.Counter
	Errors          prometheus.Counter
	Duration        prometheus.Observer
	LabeledTotal    *prometheus.CounterVec
	LabeledDuration prometheus.ObserverVec
}

// ExecuteWithMetrics runs op and records it against ins.
//
// The total counter is incremented unconditionally, the labeled counter and
// histogram only when labels are supplied. Duration timers are stopped
// exactly once whether op succeeds or fails. On failure the error counter is
// incremented and the error is returned unchanged.
func ExecuteWithMetrics(ctx context.Context, ins Instruments, op func(context.Context) error, labels ...string) error {
	if ins.Total != nil {
		ins.Total.Inc()
	}
	if len(labels) > 0 && ins.LabeledTotal != nil {
		ins.LabeledTotal.WithLabelValues(labels...).Inc()
	}

	if ins.Duration != nil {
		timer := prometheus.NewTimer(ins.Duration)
		defer timer.ObserveDuration()
	}
	if len(labels) > 0 && ins.LabeledDuration != nil {
		timer := prometheus.NewTimer(ins.LabeledDuration.WithLabelValues(labels...))
		defer timer.ObserveDuration()
	}

	if err := op(ctx); err != nil {
		if ins.Errors != nil {
			ins.Errors.Inc()
		}
		return err
	}
	return nil
}

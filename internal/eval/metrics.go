package eval

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/programme-lv/tuner/internal/run"
)

type metrics struct {
	forward
	runs     *prometheus.CounterVec
	inFlight prometheus.Gauge
	failures prometheus.Counter
}

// WithMetrics counts every execution reaching the inner Evaluator. Placed
// right above the primitive it sees each retry as its own execution.
func WithMetrics(reg prometheus.Registerer) Decorator {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tuner",
		Name:      "runs_total",
		Help:      "Target algorithm executions by terminal status.",
	}, []string{"status"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tuner",
		Name:      "runs_in_flight",
		Help:      "Run requests submitted and not yet completed.",
	})
	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tuner",
		Name:      "batch_failures_total",
		Help:      "Batches that failed without outcomes.",
	})
	if reg != nil {
		reg.MustRegister(runs, inFlight, failures)
	}
	return func(inner Evaluator) Evaluator {
		return &metrics{forward: forward{inner}, runs: runs, inFlight: inFlight, failures: failures}
	}
}

func (m *metrics) Name() string { return "metrics" }

func (m *metrics) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	m.inFlight.Add(float64(len(batch)))
	m.inner.EvaluateAsync(ctx, batch, obs, func(outcomes []run.Outcome, err error) {
		m.inFlight.Sub(float64(len(batch)))
		if err != nil {
			m.failures.Inc()
		}
		for _, o := range outcomes {
			m.runs.WithLabelValues(string(o.Status)).Inc()
		}
		done(outcomes, err)
	})
}

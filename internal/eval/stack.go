package eval

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// StackOptions selects the behaviour of the decorators BuildStack applies.
type StackOptions struct {
	// Parallelism bounds the requests running in the primitive at once.
	Parallelism int
	// Retries is how many times a CRASHED request is re-submitted.
	Retries int
	// OverrunFactor enables the long-stop kill when positive.
	OverrunFactor float64
	// CacheCompleted keeps completed outcomes even when the primitive is
	// not persisted.
	CacheCompleted bool
	// Strict turns contract violations into batch failures.
	Strict bool
	// Metrics registers Prometheus collectors when set.
	Metrics prometheus.Registerer
	Logger  *slog.Logger
}

// Stack is a primitive Evaluator wrapped in the full decorator pipeline.
type Stack struct {
	Evaluator
	Outstanding *Outstanding
	Cache       *Cache
}

// BuildStack wraps the primitive in a fixed order, innermost first:
//
//	metrics, retry, overrun-kill, bounded, cache, duplicate-check,
//	outstanding, sanity, observer-sync
//
// The order is not negotiable. Retries happen before anything can give up
// on a crash; everything that changes timing or retries sits below the
// cache and sanity checks whose guarantees would otherwise break; bounding
// sits below the accounting so waiting for a slot never counts as work.
func BuildStack(primitive Evaluator, opts StackOptions) *Stack {
	logger := orDefault(opts.Logger)

	decorators := []Decorator{}
	if opts.Metrics != nil {
		decorators = append(decorators, WithMetrics(opts.Metrics))
	}
	decorators = append(decorators, WithRetries(opts.Retries, logger))
	if opts.OverrunFactor > 0 {
		decorators = append(decorators, WithOverrunKill(opts.OverrunFactor, logger))
	}
	decorators = append(decorators, WithParallelism(opts.Parallelism))

	inner := Chain(primitive, decorators...)
	cache := NewCache(inner, opts.CacheCompleted)
	dup := WithDuplicateCheck(opts.Strict, logger)(cache)
	outstanding := NewOutstanding(dup)
	top := Chain(outstanding,
		WithSanityCheck(opts.Strict, logger),
		WithObserverSync(),
	)

	return &Stack{Evaluator: top, Outstanding: outstanding, Cache: cache}
}

// Layers lists the decorators from the outermost inwards.
func (s *Stack) Layers() []string {
	return Layers(s.Evaluator)
}

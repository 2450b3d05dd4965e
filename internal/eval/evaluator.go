// Package eval turns single target algorithm executions into a uniform,
// cancellable and composable service. A primitive Evaluator talks to the
// workers; every other Evaluator in this package decorates one inner
// Evaluator with a single concern.
package eval

import (
	"context"
	"errors"

	"github.com/programme-lv/tuner/internal/run"
)

var (
	// ErrContractViolation marks a programming error somewhere in the stack:
	// wrong outcome count or order, duplicate requests, double callbacks.
	ErrContractViolation = errors.New("evaluator contract violation")
	// ErrTransport is returned when a primitive cannot reach its workers.
	ErrTransport = errors.New("evaluator transport failure")
)

// Observer receives the current snapshot of a batch's outcomes, in batch
// order. It is never called after the batch's Callback and may call Kill on
// any live outcome it receives.
type Observer func(lives []run.Live)

// Callback is invoked exactly once per batch, either with one terminal
// outcome per request in batch order or with a non-nil error.
type Callback func(outcomes []run.Outcome, err error)

// Caps describes what an Evaluator can do.
type Caps struct {
	// Persisted evaluators can replay outcomes they have already produced.
	Persisted bool
	// Observable evaluators report live status while runs are in flight.
	Observable bool
	// Final evaluators are the authority on results; nothing re-runs them.
	Final bool
}

// Evaluator executes batches of run requests.
//
// Implementations must keep outcomes in batch order, call the Callback
// exactly once, never report an outcome as terminal twice and treat kill
// requests on finished runs as no-ops. EvaluateAsync must not block on the
// runs themselves.
type Evaluator interface {
	EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback)
	Caps() Caps
	Close() error
}

// Evaluate runs a batch and blocks until every outcome is terminal.
func Evaluate(ctx context.Context, ev Evaluator, batch []run.Request, obs Observer) ([]run.Outcome, error) {
	type result struct {
		outcomes []run.Outcome
		err      error
	}
	ch := make(chan result, 1)
	ev.EvaluateAsync(ctx, batch, obs, func(outcomes []run.Outcome, err error) {
		ch <- result{outcomes, err}
	})
	select {
	case r := <-ch:
		return r.outcomes, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decorator wraps an Evaluator with one additional concern.
type Decorator func(Evaluator) Evaluator

// Chain applies decorators innermost first.
func Chain(primitive Evaluator, decorators ...Decorator) Evaluator {
	ev := primitive
	for _, d := range decorators {
		ev = d(ev)
	}
	return ev
}

// Layer is implemented by decorators so the stack can be inspected.
type Layer interface {
	Name() string
	Inner() Evaluator
}

// Layers lists the names of the decorators from the outermost inwards,
// ending with "primitive".
func Layers(ev Evaluator) []string {
	var names []string
	for ev != nil {
		l, ok := ev.(Layer)
		if !ok {
			names = append(names, "primitive")
			break
		}
		names = append(names, l.Name())
		ev = l.Inner()
	}
	return names
}

// forward is embedded by decorators that only override EvaluateAsync.
type forward struct {
	inner Evaluator
}

func (f forward) Caps() Caps {
	return f.inner.Caps()
}

func (f forward) Close() error {
	return f.inner.Close()
}

func (f forward) Inner() Evaluator {
	return f.inner
}

package eval

import (
	"context"
	"sync"

	"github.com/programme-lv/tuner/internal/run"
)

// Outstanding counts batches and requests that were submitted but whose
// callback has not fired yet.
type Outstanding struct {
	forward
	mu       sync.Mutex
	batches  int
	requests int
	idle     chan struct{}
}

func WithOutstanding() Decorator {
	return func(inner Evaluator) Evaluator {
		return NewOutstanding(inner)
	}
}

func NewOutstanding(inner Evaluator) *Outstanding {
	idle := make(chan struct{})
	close(idle)
	return &Outstanding{forward: forward{inner}, idle: idle}
}

func (o *Outstanding) Name() string { return "outstanding" }

func (o *Outstanding) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	o.mu.Lock()
	if o.batches == 0 {
		o.idle = make(chan struct{})
	}
	o.batches++
	o.requests += len(batch)
	o.mu.Unlock()

	o.inner.EvaluateAsync(ctx, batch, obs, func(outcomes []run.Outcome, err error) {
		// release only after the caller has seen the result
		defer o.release(len(batch))
		done(outcomes, err)
	})
}

func (o *Outstanding) release(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches--
	o.requests -= n
	if o.batches == 0 {
		close(o.idle)
	}
}

// Count returns the number of requests whose batch has not completed.
func (o *Outstanding) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests
}

// Batches returns the number of batches whose callback has not fired.
func (o *Outstanding) Batches() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batches
}

// WaitIdle blocks until no batch is outstanding or ctx is done.
func (o *Outstanding) WaitIdle(ctx context.Context) error {
	for {
		o.mu.Lock()
		if o.batches == 0 {
			o.mu.Unlock()
			return nil
		}
		idle := o.idle
		o.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

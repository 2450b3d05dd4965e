package eval

import (
	"context"
	"sync"

	"github.com/programme-lv/tuner/internal/run"
)

type observerSync struct {
	forward
	mu sync.Mutex
}

// WithObserverSync serialises every observer call made through this
// Evaluator, across all batches, so observers need no locking of their own.
func WithObserverSync() Decorator {
	return func(inner Evaluator) Evaluator {
		return &observerSync{forward: forward{inner}}
	}
}

func (s *observerSync) Name() string { return "observer-sync" }

func (s *observerSync) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	if obs == nil {
		s.inner.EvaluateAsync(ctx, batch, nil, done)
		return
	}
	s.inner.EvaluateAsync(ctx, batch, func(lives []run.Live) {
		s.mu.Lock()
		defer s.mu.Unlock()
		obs(lives)
	}, done)
}

package eval

import (
	"context"
	"sync"

	"github.com/programme-lv/tuner/internal/run"
	"golang.org/x/sync/semaphore"
)

type bounded struct {
	forward
	sem *semaphore.Weighted
}

// WithParallelism lets at most limit requests run in the inner Evaluator at
// once. Requests acquire slots in batch order; a request killed while it
// waits for a slot is reported KILLED without being started.
//
// It must sit below the outstanding-work accounting: waiting for a slot
// inside the accounting would keep work outstanding that has not started.
func WithParallelism(limit int) Decorator {
	if limit < 1 {
		limit = 1
	}
	return func(inner Evaluator) Evaluator {
		return &bounded{forward: forward{inner}, sem: semaphore.NewWeighted(int64(limit))}
	}
}

func (e *bounded) Name() string { return "bounded" }

func (e *bounded) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	b := newBoard(pendingLives(batch), obs)
	go e.submit(ctx, batch, b, done)
}

func (e *bounded) submit(ctx context.Context, batch []run.Request, b *board, done Callback) {
	// queued requests must be killable before they get a slot
	b.publish()

	results := make([]run.Outcome, len(batch))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for i, req := range batch {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			// the context is gone: nothing else gets started
			for j := i; j < len(batch); j++ {
				results[j] = run.KilledBeforeStart(batch[j])
				b.update([]int{j}, []run.Live{run.NewLive(results[j], nil)})
			}
			break
		}
		if b.killRequested(i) {
			e.sem.Release(1)
			results[i] = run.KilledBeforeStart(req)
			b.update([]int{i}, []run.Live{run.NewLive(results[i], nil)})
			continue
		}

		idx := []int{i}
		var observe Observer
		if b.obs != nil {
			observe = func(lives []run.Live) { b.update(idx, lives) }
		}

		wg.Add(1)
		e.inner.EvaluateAsync(ctx, []run.Request{req}, observe, func(outcomes []run.Outcome, err error) {
			defer wg.Done()
			e.sem.Release(1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if len(outcomes) > 0 {
				results[i] = outcomes[0]
			}
		})
	}

	wg.Wait()
	b.close()
	if firstErr != nil {
		done(nil, firstErr)
		return
	}
	done(results, nil)
}

package eval

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/programme-lv/tuner/internal/run"
	"github.com/puzpuzpuz/xsync/v3"
)

// flight is one execution of a distinct request, shared by every batch that
// asked for it while it was in flight.
type flight struct {
	done    chan struct{}
	outcome run.Outcome
	err     error
}

func (f *flight) finish(o run.Outcome, err error) {
	f.outcome = o
	f.err = err
	close(f.done)
}

// Cache executes every distinct request at most once while it is in flight.
// Completed outcomes stay cached when the inner Evaluator is persisted or
// keeping was asked for; KILLED and CRASHED outcomes are never kept.
type Cache struct {
	forward
	flights *xsync.MapOf[string, *flight]
	keep    bool
	hits    atomic.Int64
	misses  atomic.Int64
}

func WithCache(keepCompleted bool) Decorator {
	return func(inner Evaluator) Evaluator {
		return NewCache(inner, keepCompleted)
	}
}

func NewCache(inner Evaluator, keepCompleted bool) *Cache {
	return &Cache{
		forward: forward{inner},
		flights: xsync.NewMapOf[string, *flight](),
		keep:    keepCompleted || inner.Caps().Persisted,
	}
}

func (c *Cache) Name() string { return "cache" }

func (c *Cache) Caps() Caps {
	caps := c.inner.Caps()
	caps.Persisted = caps.Persisted || c.keep
	return caps
}

// Stats returns how many requests were answered by an existing flight and
// how many had to be executed.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	flights := make([]*flight, len(batch))
	keys := make([]string, len(batch))
	var owned []int
	for i, req := range batch {
		keys[i] = req.Key()
		f, loaded := c.flights.LoadOrCompute(keys[i], func() *flight {
			return &flight{done: make(chan struct{})}
		})
		flights[i] = f
		if loaded {
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
			owned = append(owned, i)
		}
	}

	b := newBoard(pendingLives(batch), obs)

	if len(owned) > 0 {
		var observe Observer
		if obs != nil {
			observe = func(lives []run.Live) { b.update(owned, lives) }
		}
		c.inner.EvaluateAsync(ctx, subBatch(batch, owned), observe, func(outcomes []run.Outcome, err error) {
			for k, i := range owned {
				var o run.Outcome
				if err == nil && k < len(outcomes) {
					o = outcomes[k]
				}
				// forget before finishing so a waiter that re-runs gets a new flight
				if err != nil || !c.keep || !cacheable(o) {
					c.flights.Compute(keys[i], func(cur *flight, loaded bool) (*flight, bool) {
						return cur, loaded && cur == flights[i]
					})
				}
				flights[i].finish(o, err)
			}
		})
	}

	go c.collect(ctx, batch, flights, owned, b, done)
}

// collect waits for every flight of the batch. A request that waits on a
// flight started by another batch can be killed without touching the shared
// run; it is then reported KILLED on its own. When the owning batch kills the
// shared run, waiters that were not killed themselves run the request again.
func (c *Cache) collect(ctx context.Context, batch []run.Request, flights []*flight, owned []int, b *board, done Callback) {
	isOwner := make([]bool, len(batch))
	for _, i := range owned {
		isOwner[i] = true
	}

	// waiters get no updates until their flight lands, so show the
	// placeholders once to let the observer kill them
	if len(owned) < len(batch) {
		b.publish()
	}

	results := make([]run.Outcome, len(batch))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := flights[i]
			if !isOwner[i] {
				select {
				case <-f.done:
				case <-b.handle(i).Done():
					select {
					case <-f.done:
					default:
						o := run.KilledBeforeStart(batch[i])
						b.update([]int{i}, []run.Live{run.NewLive(o, nil)})
						mu.Lock()
						results[i] = o
						mu.Unlock()
						return
					}
				}
			}
			<-f.done

			mu.Lock()
			defer mu.Unlock()
			if f.err != nil {
				if firstErr == nil {
					firstErr = f.err
				}
				return
			}
			o := f.outcome
			o.Request = batch[i]
			if !isOwner[i] && o.Status == run.Killed && !b.killRequested(i) && ctx.Err() == nil {
				mu.Unlock()
				o, err := c.rerun(ctx, batch[i], b, i)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				results[i] = o
				return
			}
			results[i] = o
			if !isOwner[i] {
				b.update([]int{i}, []run.Live{run.NewLive(o, nil)})
			}
		}()
	}
	wg.Wait()
	b.close()
	if firstErr != nil {
		done(nil, firstErr)
		return
	}
	done(results, nil)
}

// rerun evaluates one waiter's request on its own, reporting its lives in the
// waiter's slot of the board.
func (c *Cache) rerun(ctx context.Context, req run.Request, b *board, i int) (run.Outcome, error) {
	type result struct {
		outcomes []run.Outcome
		err      error
	}
	ch := make(chan result, 1)
	c.EvaluateAsync(ctx, []run.Request{req}, func(lives []run.Live) {
		b.update([]int{i}, lives)
	}, func(outcomes []run.Outcome, err error) {
		ch <- result{outcomes, err}
	})
	r := <-ch
	if r.err != nil {
		return run.Outcome{}, r.err
	}
	return r.outcomes[0], nil
}

func cacheable(o run.Outcome) bool {
	return o.Status.Terminal() && o.Status != run.Killed && o.Status != run.Crashed
}

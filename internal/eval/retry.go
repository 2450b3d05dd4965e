package eval

import (
	"context"
	"log/slog"

	"github.com/programme-lv/tuner/internal/run"
)

type retrier struct {
	forward
	retries int
	log     *slog.Logger
}

// WithRetries re-submits a request whose outcome is CRASHED up to retries
// times. When the retries are used up the last CRASHED outcome is returned
// as a regular outcome. Observers never see a CRASHED status that is about
// to be retried.
func WithRetries(retries int, logger *slog.Logger) Decorator {
	return func(inner Evaluator) Evaluator {
		return &retrier{forward: forward{inner}, retries: retries, log: orDefault(logger)}
	}
}

func (r *retrier) Name() string { return "retry" }

func (r *retrier) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	all := make([]int, len(batch))
	for i := range batch {
		all[i] = i
	}
	b := newBoard(pendingLives(batch), obs)
	results := make([]run.Outcome, len(batch))
	r.attempt(ctx, batch, all, r.retries, b, results, done)
}

func (r *retrier) attempt(
	ctx context.Context,
	batch []run.Request,
	idx []int,
	remaining int,
	b *board,
	results []run.Outcome,
	done Callback,
) {
	sub := subBatch(batch, idx)

	var observe Observer
	if b.obs != nil {
		observe = func(lives []run.Live) {
			if remaining > 0 {
				lives = maskCrashes(lives)
			}
			b.update(idx, lives)
		}
	}

	r.inner.EvaluateAsync(ctx, sub, observe, func(outcomes []run.Outcome, err error) {
		if err != nil {
			b.close()
			done(nil, err)
			return
		}

		var again []int
		for k, o := range outcomes {
			i := idx[k]
			results[i] = o
			if o.Status == run.Crashed && remaining > 0 && ctx.Err() == nil && !b.killRequested(i) {
				again = append(again, i)
			}
		}
		if len(again) == 0 {
			b.close()
			done(results, nil)
			return
		}

		attempt := r.retries - remaining + 1
		for _, i := range again {
			r.log.Warn("target algorithm crashed, retrying",
				"request", batch[i].String(), "attempt", attempt, "retries", r.retries)
			b.replace(i, run.NewLive(run.Pending(batch[i]), b.handle(i)))
		}
		r.attempt(ctx, batch, again, remaining-1, b, results, done)
	})
}

// maskCrashes reports crashed runs as still running, keeping their handles.
func maskCrashes(lives []run.Live) []run.Live {
	masked := make([]run.Live, len(lives))
	for i, l := range lives {
		if l.Status == run.Crashed {
			o := l.Outcome
			o.Status = run.Running
			l = run.NewLive(o, l.Handle())
		}
		masked[i] = l
	}
	return masked
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

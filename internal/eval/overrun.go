package eval

import (
	"context"
	"log/slog"

	"github.com/programme-lv/tuner/internal/run"
)

type overrunKill struct {
	forward
	factor float64
	log    *slog.Logger
}

// WithOverrunKill kills any run observed to exceed factor times its cutoff.
// Cutoffs are advisory for workers; this is the long-stop for workers that
// ignore them. It only works on observable inner Evaluators.
func WithOverrunKill(factor float64, logger *slog.Logger) Decorator {
	return func(inner Evaluator) Evaluator {
		return &overrunKill{forward: forward{inner}, factor: factor, log: orDefault(logger)}
	}
}

func (k *overrunKill) Name() string { return "overrun-kill" }

func (k *overrunKill) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	k.inner.EvaluateAsync(ctx, batch, func(lives []run.Live) {
		for _, l := range lives {
			if l.Status != run.Running || l.KillRequested() {
				continue
			}
			if limit := k.factor * l.Request.Cutoff; limit > 0 && l.Runtime > limit {
				k.log.Warn("run overran its cutoff, killing",
					"request", l.Request.String(), "runtime", l.Runtime, "limit", limit)
				l.Kill()
			}
		}
		if obs != nil {
			obs(lives)
		}
	}, done)
}

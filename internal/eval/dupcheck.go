package eval

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/tuner/internal/run"
)

type dupCheck struct {
	forward
	strict bool
	log    *slog.Logger
}

// WithDuplicateCheck looks for value-equal requests inside one batch, which
// means the scheduler above built the batch wrong. The batch is dumped at
// error level; in strict mode it is also failed.
func WithDuplicateCheck(strict bool, logger *slog.Logger) Decorator {
	return func(inner Evaluator) Evaluator {
		return &dupCheck{forward: forward{inner}, strict: strict, log: orDefault(logger)}
	}
}

func (d *dupCheck) Name() string { return "duplicate-check" }

func (d *dupCheck) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	seen := mapset.NewThreadUnsafeSetWithSize[string](len(batch))
	for i, req := range batch {
		key := req.Key()
		if seen.Add(key) {
			continue
		}
		d.log.Error("duplicate run request in one batch",
			"index", i, "request", req.String(), "batch", run.Keys(batch))
		if d.strict {
			done(nil, fmt.Errorf("%w: request %s appears twice in one batch", ErrContractViolation, req))
			return
		}
		break
	}
	d.inner.EvaluateAsync(ctx, batch, obs, done)
}

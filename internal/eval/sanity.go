package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/programme-lv/tuner/internal/run"
)

type sanity struct {
	forward
	strict bool
	log    *slog.Logger
}

// WithSanityCheck verifies that snapshots and outcomes match the submitted
// batch in identity and order, that outcomes are terminal, that the callback
// fires once and that no snapshot follows it. Violations are logged with the
// batch dumped and never corrected; strict mode fails the batch instead of
// passing the bad outcomes on.
func WithSanityCheck(strict bool, logger *slog.Logger) Decorator {
	return func(inner Evaluator) Evaluator {
		return &sanity{forward: forward{inner}, strict: strict, log: orDefault(logger)}
	}
}

func (s *sanity) Name() string { return "sanity" }

func (s *sanity) EvaluateAsync(ctx context.Context, batch []run.Request, obs Observer, done Callback) {
	keys := run.Keys(batch)
	batchID := uuid.NewString()

	var (
		mu        sync.Mutex
		finished  bool
		violation error
	)
	report := func(err error) {
		s.log.Error("evaluator contract violated",
			"batch_id", batchID, "error", err, "batch", keys)
		if violation == nil {
			violation = err
		}
	}

	var observe Observer
	if obs != nil {
		observe = func(lives []run.Live) {
			mu.Lock()
			if finished {
				report(fmt.Errorf("%w: status update after completion", ErrContractViolation))
				mu.Unlock()
				return
			}
			if err := matchLives(keys, lives); err != nil {
				report(err)
				mu.Unlock()
				return
			}
			mu.Unlock()
			obs(lives)
		}
	}

	s.inner.EvaluateAsync(ctx, batch, observe, func(outcomes []run.Outcome, err error) {
		mu.Lock()
		if finished {
			report(fmt.Errorf("%w: callback invoked twice", ErrContractViolation))
			mu.Unlock()
			return
		}
		finished = true
		if err == nil {
			if verr := matchOutcomes(keys, outcomes); verr != nil {
				report(verr)
			}
		}
		failWith := violation
		mu.Unlock()

		if err == nil && failWith != nil && s.strict {
			done(nil, failWith)
			return
		}
		done(outcomes, err)
	})
}

func matchLives(keys []string, lives []run.Live) error {
	if len(lives) != len(keys) {
		return fmt.Errorf("%w: snapshot has %d entries for a batch of %d", ErrContractViolation, len(lives), len(keys))
	}
	for i, l := range lives {
		if l.Request.Key() != keys[i] {
			return fmt.Errorf("%w: snapshot entry %d is %s", ErrContractViolation, i, l.Request)
		}
	}
	return nil
}

func matchOutcomes(keys []string, outcomes []run.Outcome) error {
	if len(outcomes) != len(keys) {
		return fmt.Errorf("%w: %d outcomes for a batch of %d", ErrContractViolation, len(outcomes), len(keys))
	}
	for i, o := range outcomes {
		if o.Request.Key() != keys[i] {
			return fmt.Errorf("%w: outcome %d belongs to %s", ErrContractViolation, i, o.Request)
		}
		if !o.Status.Terminal() {
			return fmt.Errorf("%w: outcome %d of %s is %q", ErrContractViolation, i, o.Request, o.Status)
		}
	}
	return nil
}

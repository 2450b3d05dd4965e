package intensify

import (
	"context"
	"fmt"
	"sync"

	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/run"
)

// escalation tracks Phase 1 completions across snapshots of the queue.
type escalation struct {
	mu        sync.Mutex
	target    int
	incumbent run.Config

	counted       []bool
	order         []int
	incumbentDone bool
	stopped       bool
	kills         int
}

func newEscalation(target int, incumbent run.Config, size int) *escalation {
	return &escalation{target: target, incumbent: incumbent, counted: make([]bool, size)}
}

// completes reports whether an outcome cannot be improved by a larger
// cutoff: it is decided, or it already had the maximum cutoff.
func completes(o run.Outcome) bool {
	if !o.Status.Terminal() || o.Status == run.Killed {
		return false
	}
	return o.Decided() || o.Request.AtMaxCutoff()
}

func (e *escalation) count(outcomes []run.Outcome) {
	for i, o := range outcomes {
		if e.stopped {
			return
		}
		if e.counted[i] || !completes(o) {
			continue
		}
		isIncumbent := run.SameConfig(o.Request.Config, e.incumbent)
		if isIncumbent && e.incumbentDone {
			continue
		}
		e.counted[i] = true
		e.order = append(e.order, i)
		if isIncumbent {
			e.incumbentDone = true
		}
		if len(e.order) >= e.target {
			e.stopped = true
		}
	}
}

func (e *escalation) observe(lives []run.Live) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.count(run.Outcomes(lives))
	for _, l := range lives {
		if l.Status.Terminal() || l.KillRequested() {
			continue
		}
		if e.stopped || (e.incumbentDone && run.SameConfig(l.Request.Config, e.incumbent)) {
			l.Kill()
			e.kills++
		}
	}
}

// finish counts whatever no snapshot showed and returns the completions in
// the order they were counted, plus the number of kills issued.
func (e *escalation) finish(outcomes []run.Outcome) ([]run.Outcome, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.count(outcomes)
	res := make([]run.Outcome, len(e.order))
	for k, i := range e.order {
		res[k] = outcomes[i]
	}
	return res, e.kills
}

func (c *Capper) phase1(ctx context.Context, incumbent run.Config, queue []run.Request) (all, completed []run.Outcome, err error) {
	esc := newEscalation(c.opts.Challengers, incumbent, len(queue))

	all, err = eval.Evaluate(ctx, c.ev, queue, esc.observe)
	if err != nil {
		return nil, nil, fmt.Errorf("phase 1: %w", err)
	}
	if err := c.record(all); err != nil {
		return nil, nil, fmt.Errorf("phase 1: %w", err)
	}
	completed, kills := esc.finish(all)

	c.log.Debug("phase 1 finished",
		"completions", len(completed), "kills", kills, "requests", len(queue))
	return all, completed, nil
}

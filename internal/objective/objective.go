// Package objective turns a configuration's outcomes into one comparable
// number. Lower is better.
package objective

import (
	"fmt"
	"math"

	"github.com/programme-lv/tuner/internal/run"
)

// Objective scores one configuration.
type Objective interface {
	// Aggregate scores terminal outcomes. KILLED outcomes are left out of
	// the average; with nothing left the result is +Inf.
	Aggregate(outcomes []run.Outcome) float64
	// LowerBound is the best score the configuration can still reach once
	// all planned runs finish, given a live snapshot of some of them.
	LowerBound(outcomes []run.Outcome, planned int) float64
}

// Runtime is penalised average runtime (PAR-k): runs that time out or crash
// cost Penalty times their cutoff.
type Runtime struct {
	Penalty float64
}

func (r Runtime) cost(o run.Outcome) float64 {
	switch o.Status {
	case run.Sat, run.Unsat:
		return o.Runtime
	case run.Timeout, run.Crashed:
		return r.penalty() * o.Request.Cutoff
	}
	return o.Runtime
}

func (r Runtime) penalty() float64 {
	if r.Penalty <= 0 {
		return 1
	}
	return r.Penalty
}

func (r Runtime) Aggregate(outcomes []run.Outcome) float64 {
	var sum float64
	var n int
	for _, o := range outcomes {
		if !o.Status.Terminal() || o.Status == run.Killed {
			continue
		}
		sum += r.cost(o)
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

// LowerBound counts running outcomes at the runtime they have used so far
// and runs not started yet as free.
func (r Runtime) LowerBound(outcomes []run.Outcome, planned int) float64 {
	if planned < len(outcomes) {
		planned = len(outcomes)
	}
	if planned == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		switch {
		case o.Status == run.Running:
			sum += math.Max(o.Runtime, 0)
		case o.Status == run.Killed:
		default:
			sum += r.cost(o)
		}
	}
	return sum / float64(planned)
}

func (r Runtime) String() string {
	return fmt.Sprintf("PAR%g", r.penalty())
}

// Quality is the mean reported solution quality. Runs without a decided
// answer are scored Worst.
type Quality struct {
	Worst float64
}

func (q Quality) Aggregate(outcomes []run.Outcome) float64 {
	var sum float64
	var n int
	for _, o := range outcomes {
		if !o.Status.Terminal() || o.Status == run.Killed {
			continue
		}
		if o.Decided() {
			sum += o.Quality
		} else {
			sum += q.Worst
		}
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

// LowerBound knows nothing before every planned run has finished, since
// quality does not grow with elapsed time.
func (q Quality) LowerBound(outcomes []run.Outcome, planned int) float64 {
	if len(outcomes) < planned {
		return math.Inf(-1)
	}
	for _, o := range outcomes {
		if !o.Status.Terminal() {
			return math.Inf(-1)
		}
	}
	return q.Aggregate(outcomes)
}

func (q Quality) String() string {
	return "quality"
}

// Parse builds an objective from its configured name.
func Parse(name string, penalty float64) (Objective, error) {
	switch name {
	case "", "runtime":
		return Runtime{Penalty: penalty}, nil
	case "quality":
		return Quality{Worst: math.MaxFloat64}, nil
	}
	return nil, fmt.Errorf("unknown objective %q", name)
}

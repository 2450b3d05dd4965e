// Package intensify races challengers against the incumbent with adaptive
// capping. Phase 1 finds enough finished runs under escalating cutoffs, Phase
// 2 races the survivors at the maximum cutoff and kills runs that can no
// longer beat the best objective seen.
package intensify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/history"
	"github.com/programme-lv/tuner/internal/instances"
	"github.com/programme-lv/tuner/internal/objective"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/programme-lv/tuner/internal/space"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrSpaceTooSmall  = errors.New("configuration space too small")
	ErrSeedsExhausted = errors.New("no fresh instance-seed pairs left")
)

const maxSeedAttempts = 10000

type Options struct {
	Challengers       int
	RunsPerChallenger int
	// Profile is attached to every request; its CutoffMax is the cutoff of
	// Phase 2 and the last Phase 1 level.
	Profile  *run.Profile
	Seed     int64
	Schedule Schedule
	Logger   *slog.Logger
}

type Capper struct {
	ev    eval.Evaluator
	space space.Space
	seeds instances.Seeds
	obj   objective.Objective
	hist  history.History
	opts  Options
	log   *slog.Logger

	rng     *rand.Rand
	shuffle *rand.Rand
	used    mapset.Set[run.ISP]
	known   *xsync.MapOf[string, run.Outcome]
}

func New(
	ev eval.Evaluator,
	sp space.Space,
	seeds instances.Seeds,
	obj objective.Objective,
	hist history.History,
	opts Options,
) (*Capper, error) {
	if opts.Challengers < 1 || opts.RunsPerChallenger < 1 {
		return nil, fmt.Errorf("need at least one challenger and one run each, got %d and %d",
			opts.Challengers, opts.RunsPerChallenger)
	}
	if opts.Profile == nil || opts.Profile.CutoffMax <= 0 {
		return nil, fmt.Errorf("execution profile with a positive maximum cutoff is required")
	}
	if len(seeds.Instances()) == 0 {
		return nil, fmt.Errorf("no instances to race on")
	}
	if opts.Schedule == nil {
		opts.Schedule = Geometric{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seed := uint64(opts.Seed)
	return &Capper{
		ev:      ev,
		space:   sp,
		seeds:   seeds,
		obj:     obj,
		hist:    hist,
		opts:    opts,
		log:     logger,
		rng:     rand.New(rand.NewPCG(seed, 1)),
		shuffle: rand.New(rand.NewPCG(seed, 2)),
		used:    mapset.NewSet[run.ISP](),
		known:   xsync.NewMapOf[string, run.Outcome](),
	}, nil
}

// Score is a configuration's Phase 2 result.
type Score struct {
	Config    run.Config
	Objective float64
	Outcomes  []run.Outcome
	// Pruned is set when at least one run was killed for being unable to
	// beat the best objective.
	Pruned bool
}

type Result struct {
	Incumbent run.Config
	Objective float64
	Changed   bool
	// Completions are the Phase 1 outcomes that counted towards stopping it.
	Completions []run.Outcome
	Scores      []Score
}

// Run races the incumbent against freshly sampled challengers and returns
// the configuration with the lowest objective.
func (c *Capper) Run(ctx context.Context, incumbent run.Config) (*Result, error) {
	queue, err := c.BuildQueue(incumbent)
	if err != nil {
		return nil, err
	}
	c.log.Info("starting phase 1",
		"incumbent", incumbent.Key(), "requests", len(queue), "challengers", c.opts.Challengers)

	all, completed, err := c.phase1(ctx, incumbent, queue)
	if err != nil {
		return nil, err
	}

	survivors := selectSurvivors(all, completed, c.opts.Challengers)
	configs, isps, err := c.contenders(incumbent, survivors)
	if err != nil {
		return nil, err
	}
	c.log.Info("starting phase 2", "configs", len(configs), "isps", len(isps))

	scores, err := c.phase2(ctx, configs, isps)
	if err != nil {
		return nil, err
	}

	res := &Result{Completions: completed, Scores: scores}
	res.Incumbent, res.Objective = winner(incumbent, scores)
	res.Changed = !run.SameConfig(res.Incumbent, incumbent)
	c.log.Info("race finished",
		"incumbent", res.Incumbent.Key(), "objective", res.Objective, "changed", res.Changed)
	return res, nil
}

// winner picks the lowest objective among the configurations that were
// not pruned. Pruned scores only cover the runs that finished before the
// kill, so their objective is not comparable. Ties go to the incumbent, and
// the incumbent stays when nothing has a finite objective.
func winner(incumbent run.Config, scores []Score) (run.Config, float64) {
	best, obj := incumbent, math.Inf(1)
	for _, s := range scores {
		if s.Pruned {
			continue
		}
		better := s.Objective < obj
		tie := s.Objective == obj && run.SameConfig(s.Config, incumbent)
		if better || tie {
			best, obj = s.Config, s.Objective
		}
	}
	if math.IsInf(obj, 1) {
		best = incumbent
	}
	return best, obj
}

// record appends the informative outcomes of one batch to the history.
// KILLED outcomes are left out since they are left out of every objective.
func (c *Capper) record(outcomes []run.Outcome) error {
	kept := make([]run.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status.Terminal() && o.Status != run.Killed {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if err := c.hist.Append(kept); err != nil {
		return fmt.Errorf("failed to record %d outcomes: %w", len(kept), err)
	}
	for _, o := range kept {
		c.known.Store(o.Request.Key(), o)
	}
	return nil
}

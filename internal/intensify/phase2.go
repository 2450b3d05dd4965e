package intensify

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/run"
	"golang.org/x/sync/errgroup"
)

// selectSurvivors picks up to n Phase 1 outcomes to seed Phase 2 with.
// Decided completions come first, then timeouts with the largest cutoffs.
// Crashes are only used when nothing else is available.
func selectSurvivors(all, completed []run.Outcome, n int) []run.Outcome {
	var res []run.Outcome
	for _, o := range completed {
		if len(res) == n {
			return res
		}
		if o.Decided() {
			res = append(res, o)
		}
	}

	byCutoff := func(status run.Status) []run.Outcome {
		var picked []run.Outcome
		for _, o := range all {
			if o.Status == status {
				picked = append(picked, o)
			}
		}
		slices.SortStableFunc(picked, func(a, b run.Outcome) int {
			return cmp.Compare(b.Request.Cutoff, a.Request.Cutoff)
		})
		return picked
	}

	for _, o := range byCutoff(run.Timeout) {
		if len(res) == n {
			return res
		}
		res = append(res, o)
	}
	if len(res) == 0 {
		for _, o := range byCutoff(run.Crashed) {
			if len(res) == n {
				break
			}
			res = append(res, o)
		}
	}
	return res
}

// contenders builds the shuffled configurations and instance-seed pairs of
// Phase 2. The incumbent always races; when it did not survive Phase 1 it
// takes the first slot.
func (c *Capper) contenders(incumbent run.Config, survivors []run.Outcome) ([]run.Config, []run.ISP, error) {
	cfgSeen := mapset.NewThreadUnsafeSet[string]()
	ispSeen := mapset.NewThreadUnsafeSet[run.ISP]()
	var configs []run.Config
	var isps []run.ISP
	for _, o := range survivors {
		if cfgSeen.Add(o.Request.Config.Key()) {
			configs = append(configs, o.Request.Config)
		}
		if ispSeen.Add(o.Request.ISP) {
			isps = append(isps, o.Request.ISP)
		}
	}

	c.shuffle.Shuffle(len(configs), func(i, j int) { configs[i], configs[j] = configs[j], configs[i] })
	c.shuffle.Shuffle(len(isps), func(i, j int) { isps[i], isps[j] = isps[j], isps[i] })

	if !cfgSeen.Contains(incumbent.Key()) {
		configs = append([]run.Config{incumbent}, configs...)
	}
	if len(configs) > c.opts.Challengers {
		configs = configs[:c.opts.Challengers]
	}

	runs := c.opts.RunsPerChallenger
	if len(isps) > runs {
		isps = isps[:runs]
	}
	for len(isps) < runs {
		isp, err := c.freshISP()
		if err != nil {
			return nil, nil, err
		}
		isps = append(isps, isp)
	}
	return configs, isps, nil
}

// bound is the best objective any configuration has finished with so far.
type bound struct {
	bits atomic.Uint64
}

func newBound() *bound {
	b := &bound{}
	b.bits.Store(math.Float64bits(math.Inf(1)))
	return b
}

func (b *bound) load() float64 {
	return math.Float64frombits(b.bits.Load())
}

// offer lowers the bound to v if v is better.
func (b *bound) offer(v float64) bool {
	for {
		cur := b.bits.Load()
		if v >= math.Float64frombits(cur) {
			return false
		}
		if b.bits.CompareAndSwap(cur, math.Float64bits(v)) {
			return true
		}
	}
}

func (c *Capper) phase2(ctx context.Context, configs []run.Config, isps []run.ISP) ([]Score, error) {
	best := newBound()
	scores := make([]Score, len(configs))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range configs {
		g.Go(func() error {
			s, err := c.race(gctx, cfg, isps, best)
			if err != nil {
				return fmt.Errorf("phase 2, %s: %w", cfg.Key(), err)
			}
			scores[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// race runs one configuration on every instance-seed pair at the maximum
// cutoff, reusing outcomes this Capper already has. Its observer kills the
// remaining runs once the configuration's lower bound exceeds the best.
func (c *Capper) race(ctx context.Context, cfg run.Config, isps []run.ISP, best *bound) (Score, error) {
	kappa := c.opts.Profile.CutoffMax
	planned := len(isps)

	outcomes := make([]run.Outcome, planned)
	var batch []run.Request
	var idx []int
	for j, isp := range isps {
		req := c.request(isp, kappa, cfg)
		if o, ok := c.known.Load(req.Key()); ok {
			outcomes[j] = o
			continue
		}
		outcomes[j] = run.Pending(req)
		batch = append(batch, req)
		idx = append(idx, j)
	}

	var pruned atomic.Bool
	observe := func(lives []run.Live) {
		current := slices.Clone(outcomes)
		for k, l := range lives {
			current[idx[k]] = l.Outcome
		}
		lb := c.obj.LowerBound(current, planned)
		limit := best.load()
		if lb <= limit {
			return
		}
		for _, l := range lives {
			if l.Status.Terminal() || l.KillRequested() {
				continue
			}
			c.log.Debug("pruning run",
				"request", l.Request.String(), "lower_bound", lb, "best", limit)
			l.Kill()
			pruned.Store(true)
		}
	}

	if len(batch) > 0 {
		res, err := eval.Evaluate(ctx, c.ev, batch, observe)
		if err != nil {
			return Score{}, err
		}
		if err := c.record(res); err != nil {
			return Score{}, err
		}
		for k, o := range res {
			outcomes[idx[k]] = o
		}
	}

	s := Score{Config: cfg, Objective: c.obj.Aggregate(outcomes), Outcomes: outcomes, Pruned: pruned.Load()}
	if !s.Pruned && best.offer(s.Objective) {
		c.log.Debug("new best objective", "config", cfg.Key(), "objective", s.Objective)
	}
	return s, nil
}

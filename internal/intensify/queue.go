package intensify

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/tuner/internal/run"
)

// BuildQueue lays out every Phase 1 request up front, grouped by ascending
// cutoff. Each level holds challengers times runs-per-challenger requests:
// the incumbent first, then one freshly sampled configuration per slot. No
// configuration or instance-seed pair appears twice.
func (c *Capper) BuildQueue(incumbent run.Config) ([]run.Request, error) {
	levels := c.opts.Schedule.Levels(c.opts.Profile.CutoffMax, c.opts.Challengers)
	if len(levels) == 0 {
		return nil, fmt.Errorf("cutoff schedule produced no levels")
	}
	perLevel := c.opts.Challengers * c.opts.RunsPerChallenger
	needed := perLevel * len(levels)
	if _, upper := c.space.SizeBounds(); upper < float64(needed) {
		return nil, fmt.Errorf("%w: %d distinct configurations needed, at most %g exist",
			ErrSpaceTooSmall, needed, upper)
	}

	configs, err := c.sampleDistinct(incumbent, needed-len(levels))
	if err != nil {
		return nil, err
	}

	queue := make([]run.Request, 0, needed)
	for _, kappa := range levels {
		for slot := 0; slot < perLevel; slot++ {
			isp, err := c.freshISP()
			if err != nil {
				return nil, err
			}
			cfg := incumbent
			if slot > 0 {
				cfg, configs = configs[0], configs[1:]
			}
			queue = append(queue, c.request(isp, kappa, cfg))
		}
	}
	return queue, nil
}

func (c *Capper) request(isp run.ISP, kappa float64, cfg run.Config) run.Request {
	return run.Request{ISP: isp, Cutoff: kappa, Config: cfg, Profile: c.opts.Profile}
}

// sampleDistinct draws n configurations that differ from each other and from
// the incumbent.
func (c *Capper) sampleDistinct(incumbent run.Config, n int) ([]run.Config, error) {
	seen := mapset.NewThreadUnsafeSet(incumbent.Key())
	res := make([]run.Config, 0, n)
	limit := 100*n + 1000
	for attempt := 0; len(res) < n; attempt++ {
		if attempt >= limit {
			return nil, fmt.Errorf("%w: only %d distinct configurations found in %d samples",
				ErrSpaceTooSmall, len(res), limit)
		}
		cfg := c.space.Sample(c.rng)
		if seen.Add(cfg.Key()) {
			res = append(res, cfg)
		}
	}
	return res, nil
}

// freshISP picks a random instance and takes its next seed until the pair
// has never been used by this Capper.
func (c *Capper) freshISP() (run.ISP, error) {
	insts := c.seeds.Instances()
	for attempt := 0; attempt < maxSeedAttempts; attempt++ {
		inst := insts[c.rng.IntN(len(insts))]
		if !c.seeds.HasNext(inst) {
			continue
		}
		seed, err := c.seeds.Next(inst)
		if err != nil {
			continue
		}
		isp := run.ISP{Instance: inst, Seed: seed}
		if c.used.Add(isp) {
			return isp, nil
		}
	}
	return run.ISP{}, fmt.Errorf("%w after %d attempts", ErrSeedsExhausted, maxSeedAttempts)
}

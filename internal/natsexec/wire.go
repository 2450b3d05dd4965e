package natsexec

import (
	"time"

	"github.com/programme-lv/tuner/api"
	"github.com/programme-lv/tuner/internal/run"
)

// wireConfig is a configuration received from a tuner.
type wireConfig struct {
	key  string
	args []string
}

func (c wireConfig) Key() string    { return c.key }
func (c wireConfig) Args() []string { return c.args }

// fromRunReqs rebuilds requests on the worker side. Requests of one batch
// that share a profile share one *run.Profile.
func fromRunReqs(reqs []api.RunReq) []run.Request {
	profiles := make(map[api.Profile]*run.Profile)
	res := make([]run.Request, len(reqs))
	for i, r := range reqs {
		p, ok := profiles[r.Profile]
		if !ok {
			p = &run.Profile{
				Executable:    r.Profile.Executable,
				WorkDir:       r.Profile.WorkDir,
				Deterministic: r.Profile.Deterministic,
				CutoffMax:     r.Profile.CutoffMax,
			}
			profiles[r.Profile] = p
		}
		res[i] = run.Request{
			ISP:     run.ISP{Instance: run.Instance{Name: r.Instance, Specifics: r.Specifics}, Seed: r.Seed},
			Cutoff:  r.Cutoff,
			Config:  wireConfig{key: r.ConfigKey, args: r.ConfigArgs},
			Profile: p,
		}
	}
	return res
}

func toRunStates(outcomes []run.Outcome) []api.RunState {
	res := make([]api.RunState, len(outcomes))
	for i, o := range outcomes {
		res[i] = api.NewRunState(i, o)
	}
	return res
}

// applyState fills an outcome of the tuner's own request from a worker
// state. Unknown statuses are reported as crashes.
func applyState(req run.Request, s api.RunState) run.Outcome {
	status, ok := run.ParseStatus(s.Status)
	if !ok {
		status = run.Crashed
	}
	return run.Outcome{
		Request:   req,
		Status:    status,
		Runtime:   s.Runtime,
		RunLength: s.RunLength,
		Quality:   s.Quality,
		Seed:      s.Seed,
		Extra:     s.Extra,
		WallClock: time.Duration(s.WallMs) * time.Millisecond,
	}
}

package api

import "github.com/programme-lv/tuner/internal/run"

// NewRunReq describes a request for the wire.
func NewRunReq(r run.Request) RunReq {
	req := RunReq{
		Instance:   r.ISP.Instance.Name,
		Specifics:  r.ISP.Instance.Specifics,
		Seed:       r.ISP.Seed,
		Cutoff:     r.Cutoff,
		ConfigArgs: run.ArgsOf(r.Config),
	}
	if r.Config != nil {
		req.ConfigKey = r.Config.Key()
	}
	if p := r.Profile; p != nil {
		req.Profile = Profile{
			Executable:    p.Executable,
			WorkDir:       p.WorkDir,
			Deterministic: p.Deterministic,
			CutoffMax:     p.CutoffMax,
		}
	}
	return req
}

// NewRunState describes the outcome at a batch index for the wire.
func NewRunState(index int, o run.Outcome) RunState {
	return RunState{
		Index:     index,
		Status:    string(o.Status),
		Runtime:   o.Runtime,
		RunLength: o.RunLength,
		Quality:   o.Quality,
		Seed:      o.Seed,
		Extra:     o.Extra,
		WallMs:    o.WallClock.Milliseconds(),
	}
}

package behave

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/history"
	"github.com/programme-lv/tuner/internal/instances"
	"github.com/programme-lv/tuner/internal/intensify"
	"github.com/programme-lv/tuner/internal/objective"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/programme-lv/tuner/internal/space"
	"github.com/programme-lv/tuner/internal/synth"
)

// SpecExpect describes what a finished race must look like.
type SpecExpect struct {
	Changed *bool `toml:"changed"`
	// MaxObjective bounds the winner's objective when positive.
	MaxObjective float64 `toml:"max_objective"`
	// Incumbent is the expected winning configuration key.
	Incumbent string `toml:"incumbent"`
}

// specSuite maps to [[scenarios]] entries.
type specSuite struct {
	Description       string             `toml:"description"`
	Challengers       int                `toml:"challengers"`
	RunsPerChallenger int                `toml:"runs_per_challenger"`
	CutoffMax         float64            `toml:"cutoff_max"`
	Seed              int64              `toml:"seed"`
	Objective         string             `toml:"objective"`
	Penalty           float64            `toml:"penalty"`
	Instances         []string           `toml:"instances"`
	Params            []space.Param      `toml:"param"`
	RuntimeParam      string             `toml:"runtime_param"`
	Base              float64            `toml:"base"`
	Costs             map[string]float64 `toml:"costs"`
	Expect            SpecExpect         `toml:"expect"`
}

type specRoot struct {
	Suites []specSuite `toml:"scenarios"`
}

// Case is a runnable race against a synthetic target algorithm.
type Case struct {
	Id        string
	Name      string
	Space     *space.Discrete
	Instances []run.Instance
	Objective objective.Objective
	Options   intensify.Options
	Behaviour synth.Behaviour
	Expect    SpecExpect
}

// Parse reads a behaviour TOML file and converts it to runnable cases.
func Parse(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read behaviour file: %w", err)
	}
	var root specRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cases := make([]Case, 0, len(root.Suites))
	for _, suite := range root.Suites {
		c, err := suite.toCase()
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", suite.Description, err)
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func (s specSuite) toCase() (Case, error) {
	sp, err := space.NewDiscrete(s.Params)
	if err != nil {
		return Case{}, err
	}
	if len(s.Instances) == 0 {
		return Case{}, fmt.Errorf("no instances")
	}
	if s.RuntimeParam != "" {
		found := false
		for _, p := range s.Params {
			found = found || p.Name == s.RuntimeParam
		}
		if !found {
			return Case{}, fmt.Errorf("runtime_param %q is not a parameter", s.RuntimeParam)
		}
	}

	// defaults match a small three-challenger race
	if s.Challengers == 0 {
		s.Challengers = 3
	}
	if s.RunsPerChallenger == 0 {
		s.RunsPerChallenger = 2
	}
	if s.CutoffMax == 0 {
		s.CutoffMax = 32
	}
	if s.Objective == "" {
		s.Objective = "runtime"
	}
	if s.Penalty == 0 {
		s.Penalty = 10
	}
	obj, err := objective.Parse(s.Objective, s.Penalty)
	if err != nil {
		return Case{}, err
	}

	insts := make([]run.Instance, len(s.Instances))
	for i, name := range s.Instances {
		insts[i] = run.Instance{Name: name}
	}

	return Case{
		Id:        uuid.NewString(),
		Name:      s.Description,
		Space:     sp,
		Instances: insts,
		Objective: obj,
		Options: intensify.Options{
			Challengers:       s.Challengers,
			RunsPerChallenger: s.RunsPerChallenger,
			Profile:           &run.Profile{Executable: "synthetic", CutoffMax: s.CutoffMax},
			Seed:              s.Seed,
		},
		Behaviour: s.behaviour(),
		Expect:    s.Expect,
	}, nil
}

// behaviour prices a configuration by its listed cost, then by the runtime
// parameter, then by the base cost. Non-positive costs never finish.
func (s specSuite) behaviour() synth.Behaviour {
	costs := s.Costs
	param := s.RuntimeParam
	base := s.Base
	return func(req run.Request) synth.Result {
		cost, ok := costs[req.Config.Key()]
		if !ok && param != "" {
			if a, isAssign := req.Config.(space.Assignment); isAssign {
				if v, has := a.Value(param); has {
					cost, _ = strconv.ParseFloat(v, 64)
					ok = true
				}
			}
		}
		if !ok {
			cost = base
		}
		if cost <= 0 {
			return synth.Result{Status: run.Timeout, Runtime: req.Cutoff}
		}
		return synth.Result{Status: run.Sat, Runtime: cost, Quality: cost}
	}
}

type RunOptions struct {
	// Scale is the wall-clock length of one second of synthetic runtime.
	Scale       time.Duration
	Parallelism int
	Logger      *slog.Logger
}

// Verdict is the outcome of running one case.
type Verdict struct {
	Case     Case
	Result   *intensify.Result
	Runs     int
	Failures []string
	Elapsed  time.Duration
}

func (v Verdict) Passed() bool { return len(v.Failures) == 0 }

// Run races the case's default configuration against sampled challengers and
// checks the expectations.
func Run(ctx context.Context, c Case, opts RunOptions) (Verdict, error) {
	if opts.Scale == 0 {
		opts.Scale = time.Millisecond
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("scenario", c.Name, "id", c.Id)

	prim := synth.New(c.Behaviour, synth.Options{Scale: opts.Scale})
	stack := eval.BuildStack(prim, eval.StackOptions{
		Parallelism: opts.Parallelism,
		Retries:     1,
		Strict:      true,
		Logger:      logger,
	})
	defer stack.Close()

	hist := history.NewMemory()
	copts := c.Options
	copts.Logger = logger
	seeds := instances.NewGenerator(c.Instances, c.Options.Seed, instances.Options{})
	capper, err := intensify.New(stack, c.Space, seeds, c.Objective, hist, copts)
	if err != nil {
		return Verdict{Case: c}, err
	}

	start := time.Now()
	res, err := capper.Run(ctx, c.Space.Default())
	if err != nil {
		return Verdict{Case: c}, err
	}
	if err := stack.Outstanding.WaitIdle(ctx); err != nil {
		return Verdict{Case: c}, err
	}

	v := Verdict{Case: c, Result: res, Runs: hist.Len(), Elapsed: time.Since(start)}
	v.Failures = check(c.Expect, res)
	return v, nil
}

func check(exp SpecExpect, res *intensify.Result) []string {
	var failures []string
	if exp.Changed != nil && *exp.Changed != res.Changed {
		failures = append(failures, fmt.Sprintf("changed: expected %t, got %t", *exp.Changed, res.Changed))
	}
	if exp.MaxObjective > 0 && !(res.Objective <= exp.MaxObjective) {
		failures = append(failures, fmt.Sprintf("objective: expected at most %g, got %g", exp.MaxObjective, res.Objective))
	}
	if exp.Incumbent != "" && res.Incumbent.Key() != exp.Incumbent {
		failures = append(failures, fmt.Sprintf("incumbent: expected %s, got %s", exp.Incumbent, res.Incumbent.Key()))
	}
	if math.IsNaN(res.Objective) {
		failures = append(failures, "objective is NaN")
	}
	return failures
}

package intensify_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/history"
	"github.com/programme-lv/tuner/internal/instances"
	"github.com/programme-lv/tuner/internal/intensify"
	"github.com/programme-lv/tuner/internal/objective"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/programme-lv/tuner/internal/space"
	"github.com/programme-lv/tuner/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// speedSpace has one parameter whose value is the runtime of the
// configuration.
func speedSpace(t *testing.T, n int) *space.Discrete {
	values := make([]string, n)
	for i := range values {
		values[i] = strconv.Itoa(i + 1)
	}
	sp, err := space.NewDiscrete([]space.Param{{Name: "speed", Values: values, Default: values[n-1]}})
	require.NoError(t, err)
	return sp
}

func bySpeed(req run.Request) synth.Result {
	v, _ := req.Config.(space.Assignment).Value("speed")
	speed, _ := strconv.ParseFloat(v, 64)
	return synth.Result{Status: run.Sat, Runtime: speed}
}

func generator(n int, opts instances.Options) *instances.Generator {
	insts := make([]run.Instance, n)
	for i := range insts {
		insts[i] = run.Instance{Name: "inst" + strconv.Itoa(i)}
	}
	return instances.NewGenerator(insts, 42, opts)
}

func options(cutoffMax float64) intensify.Options {
	return intensify.Options{
		Challengers:       3,
		RunsPerChallenger: 2,
		Profile:           &run.Profile{Executable: "./wrapper", CutoffMax: cutoffMax},
		Seed:              7,
		Logger:            logger,
	}
}

func TestBuildQueue(t *testing.T) {
	sp := speedSpace(t, 100)
	c, err := intensify.New(nil, sp, generator(5, instances.Options{}), objective.Runtime{}, history.NewMemory(), options(32))
	require.NoError(t, err)

	incumbent := sp.Default()
	queue, err := c.BuildQueue(incumbent)
	require.NoError(t, err)
	require.Len(t, queue, 3*2*4)

	configs := mapset.NewThreadUnsafeSet[string]()
	isps := mapset.NewThreadUnsafeSet[run.ISP]()
	for i, req := range queue {
		level := i / 6
		assert.Equal(t, float64(int(4)<<level), req.Cutoff, "request %d", i)
		if i%6 == 0 {
			assert.Equal(t, incumbent.Key(), req.Config.Key())
		} else {
			assert.True(t, configs.Add(req.Config.Key()), "config reused: %s", req.Config.Key())
			assert.NotEqual(t, incumbent.Key(), req.Config.Key())
		}
		assert.True(t, isps.Add(req.ISP), "isp reused: %s", req.ISP)
	}
}

func TestBuildQueueSpaceTooSmall(t *testing.T) {
	c, err := intensify.New(nil, speedSpace(t, 10), generator(5, instances.Options{}), objective.Runtime{}, history.NewMemory(), options(32))
	require.NoError(t, err)

	_, err = c.BuildQueue(run.Config(nil))
	require.ErrorIs(t, err, intensify.ErrSpaceTooSmall)
}

func TestBuildQueueSeedsExhausted(t *testing.T) {
	sp := speedSpace(t, 100)
	c, err := intensify.New(nil, sp, generator(2, instances.Options{Limit: 3}), objective.Runtime{}, history.NewMemory(), options(32))
	require.NoError(t, err)

	_, err = c.BuildQueue(sp.Default())
	require.ErrorIs(t, err, intensify.ErrSeedsExhausted)
}

// recorder keeps the outcomes of every batch that passes through it.
type recorder struct {
	eval.Evaluator
	mu      sync.Mutex
	batches [][]run.Outcome
}

func (r *recorder) EvaluateAsync(ctx context.Context, batch []run.Request, obs eval.Observer, done eval.Callback) {
	r.Evaluator.EvaluateAsync(ctx, batch, obs, func(outcomes []run.Outcome, err error) {
		r.mu.Lock()
		r.batches = append(r.batches, outcomes)
		r.mu.Unlock()
		done(outcomes, err)
	})
}

func TestPhase1StopsAfterChallengers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	prim := synth.New(synth.Constant(run.Sat, 3), synth.Options{Scale: 2 * time.Millisecond})
	stack := eval.BuildStack(prim, eval.StackOptions{Parallelism: 2, Strict: true, Logger: logger})
	rec := &recorder{Evaluator: stack}

	sp := speedSpace(t, 100)
	c, err := intensify.New(rec, sp, generator(5, instances.Options{}), objective.Runtime{}, history.NewMemory(), options(32))
	require.NoError(t, err)

	res, err := c.Run(ctx, sp.Default())
	require.NoError(t, err)
	require.Len(t, res.Completions, 3)

	keys := mapset.NewThreadUnsafeSet[string]()
	for _, o := range res.Completions {
		assert.Equal(t, run.Sat, o.Status)
		assert.True(t, keys.Add(o.Request.Config.Key()))
	}

	rec.mu.Lock()
	phase1 := rec.batches[0]
	rec.mu.Unlock()
	require.Len(t, phase1, 24)

	var sat, killed int
	for _, o := range phase1 {
		switch o.Status {
		case run.Sat:
			sat++
		case run.Killed:
			killed++
		default:
			t.Errorf("unexpected phase 1 status %s", o.Status)
		}
	}
	assert.GreaterOrEqual(t, sat, 3)
	// at most the runs already in flight when the third completion landed
	assert.LessOrEqual(t, sat, 3+2)
	assert.Equal(t, 24, sat+killed)
}

func TestPhase1KillsIncumbentOnceComplete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sp := speedSpace(t, 100)
	incumbent := sp.Default()
	behave := func(req run.Request) synth.Result {
		if req.Config.Key() == incumbent.Key() {
			return synth.Result{Status: run.Sat, Runtime: 1}
		}
		return synth.Result{Status: run.Timeout, Runtime: req.Cutoff}
	}
	prim := synth.New(behave, synth.Options{Scale: 2 * time.Millisecond})
	stack := eval.BuildStack(prim, eval.StackOptions{Parallelism: 2, Strict: true, Logger: logger})
	rec := &recorder{Evaluator: stack}

	c, err := intensify.New(rec, sp, generator(5, instances.Options{}), objective.Runtime{Penalty: 10}, history.NewMemory(), options(32))
	require.NoError(t, err)

	res, err := c.Run(ctx, incumbent)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	var incumbentCompletions int
	for _, o := range res.Completions {
		if o.Request.Config.Key() == incumbent.Key() {
			incumbentCompletions++
		}
	}
	assert.Equal(t, 1, incumbentCompletions)

	rec.mu.Lock()
	phase1 := rec.batches[0]
	rec.mu.Unlock()
	require.Len(t, phase1, 24)

	var statuses []run.Status
	var executions []int
	for _, o := range phase1 {
		if o.Request.Config.Key() == incumbent.Key() {
			statuses = append(statuses, o.Status)
			executions = append(executions, prim.ExecutionsOf(o.Request))
		}
	}
	// the incumbent leads every level; only its first run executes
	assert.Equal(t, []run.Status{run.Sat, run.Killed, run.Killed, run.Killed}, statuses)
	assert.Equal(t, []int{1, 0, 0, 0}, executions)
}

func TestRunReplacesSlowIncumbent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	prim := synth.New(bySpeed, synth.Options{Scale: time.Millisecond})
	stack := eval.BuildStack(prim, eval.StackOptions{Parallelism: 8, Retries: 1, Strict: true, Logger: logger})

	sp := speedSpace(t, 40)
	hist := history.NewMemory()
	c, err := intensify.New(stack, sp, generator(4, instances.Options{}), objective.Runtime{Penalty: 10}, hist, options(32))
	require.NoError(t, err)

	incumbent := sp.Default()
	res, err := c.Run(ctx, incumbent)
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Less(t, res.Objective, 32.0)
	require.NotEmpty(t, res.Scores)

	var sawIncumbent bool
	for _, s := range res.Scores {
		if s.Config.Key() == incumbent.Key() {
			sawIncumbent = true
		}
		assert.GreaterOrEqual(t, s.Objective, res.Objective)
	}
	assert.True(t, sawIncumbent)

	require.NoError(t, stack.Outstanding.WaitIdle(ctx))
	assert.Positive(t, hist.Len())
	for _, o := range hist.Runs() {
		assert.True(t, o.Status.Terminal())
		assert.NotEqual(t, run.Killed, o.Status)
	}
}

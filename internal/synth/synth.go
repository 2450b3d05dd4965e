// Package synth is a primitive Evaluator that pretends to run target
// algorithms. Runtimes come from a Behaviour function and are played back in
// scaled wall-clock time, with live status, cutoffs and kills honoured.
package synth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/run"
)

// Result is what a run would report if nothing stopped it.
type Result struct {
	Status  run.Status
	Runtime float64
	Quality float64
}

// Behaviour decides the natural result of a request.
type Behaviour func(req run.Request) Result

type Options struct {
	// Scale is the wall-clock duration of one unit of runtime.
	Scale time.Duration
	// Tick is the interval between live status snapshots.
	Tick time.Duration
}

type Evaluator struct {
	behave Behaviour
	scale  time.Duration
	tick   time.Duration

	executions atomic.Int64
	running    atomic.Int64
	maxRunning atomic.Int64

	mu     sync.Mutex
	perKey map[string]int
}

var _ eval.Evaluator = (*Evaluator)(nil)

func New(behave Behaviour, opts Options) *Evaluator {
	if opts.Scale <= 0 {
		opts.Scale = time.Millisecond
	}
	if opts.Tick <= 0 {
		opts.Tick = opts.Scale
	}
	return &Evaluator{
		behave: behave,
		scale:  opts.Scale,
		tick:   opts.Tick,
		perKey: make(map[string]int),
	}
}

func (e *Evaluator) Caps() eval.Caps {
	return eval.Caps{Observable: true, Final: true}
}

func (e *Evaluator) Close() error { return nil }

// Executions returns how many requests were started in total.
func (e *Evaluator) Executions() int64 { return e.executions.Load() }

// ExecutionsOf returns how many times the request was started.
func (e *Evaluator) ExecutionsOf(req run.Request) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.perKey[req.Key()]
}

// MaxConcurrent returns the largest number of requests seen running at once.
func (e *Evaluator) MaxConcurrent() int64 { return e.maxRunning.Load() }

type job struct {
	req    run.Request
	handle *run.KillHandle
	start  time.Time
	out    run.Outcome
}

func (e *Evaluator) EvaluateAsync(ctx context.Context, batch []run.Request, obs eval.Observer, done eval.Callback) {
	jobs := make([]*job, len(batch))
	for i, req := range batch {
		jobs[i] = &job{req: req, handle: run.NewKillHandle(), out: run.Pending(req)}
	}

	var (
		mu       sync.Mutex
		finished bool
		wg       sync.WaitGroup
	)
	snapshot := func() []run.Live {
		lives := make([]run.Live, len(jobs))
		for i, j := range jobs {
			o := j.out
			if o.Status == run.Running && !j.start.IsZero() {
				o.Runtime = float64(time.Since(j.start)) / float64(e.scale)
			}
			lives[i] = run.NewLive(o, j.handle)
		}
		return lives
	}
	emit := func() {
		if obs == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		obs(snapshot())
	}

	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.play(ctx, j, &mu)
			mu.Lock()
			j.out = out
			mu.Unlock()
			emit()
		}()
	}

	stop := make(chan struct{})
	if obs != nil {
		go func() {
			ticker := time.NewTicker(e.tick)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					emit()
				case <-stop:
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(stop)
		mu.Lock()
		finished = true
		outcomes := make([]run.Outcome, len(jobs))
		for i, j := range jobs {
			outcomes[i] = j.out
		}
		mu.Unlock()
		done(outcomes, nil)
	}()
}

func (e *Evaluator) play(ctx context.Context, j *job, mu *sync.Mutex) run.Outcome {
	if j.handle.Killed() || ctx.Err() != nil {
		return run.KilledBeforeStart(j.req)
	}

	e.executions.Add(1)
	e.mu.Lock()
	e.perKey[j.req.Key()]++
	e.mu.Unlock()
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		max := e.maxRunning.Load()
		if n <= max || e.maxRunning.CompareAndSwap(max, n) {
			break
		}
	}

	natural := e.behave(j.req)
	status, runtime := natural.Status, natural.Runtime
	if runtime > j.req.Cutoff {
		status, runtime = run.Timeout, j.req.Cutoff
	}

	start := time.Now()
	mu.Lock()
	j.start = start
	mu.Unlock()

	timer := time.NewTimer(time.Duration(runtime * float64(e.scale)))
	defer timer.Stop()

	out := run.Outcome{
		Request: j.req,
		Status:  status,
		Runtime: runtime,
		Quality: natural.Quality,
		Seed:    j.req.ISP.Seed,
	}
	select {
	case <-timer.C:
	case <-j.handle.Done():
		out.Status = run.Killed
		out.Runtime = float64(time.Since(start)) / float64(e.scale)
	case <-ctx.Done():
		out.Status = run.Killed
		out.Runtime = float64(time.Since(start)) / float64(e.scale)
	}
	out.WallClock = time.Since(start)
	return out
}

// Constant reports the same result for every request.
func Constant(status run.Status, runtime float64) Behaviour {
	return func(run.Request) Result {
		return Result{Status: status, Runtime: runtime}
	}
}

// ByConfig looks runtimes up by configuration key; unknown configurations
// time out.
func ByConfig(runtimes map[string]float64) Behaviour {
	return func(req run.Request) Result {
		r, ok := runtimes[req.Config.Key()]
		if !ok {
			return Result{Status: run.Timeout, Runtime: req.Cutoff}
		}
		return Result{Status: run.Sat, Runtime: r}
	}
}

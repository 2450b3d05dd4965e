// Package procexec is a primitive Evaluator that runs the target algorithm
// wrapper as a local process per request.
//
// The wrapper is invoked as
//
//	<executable> <instance> <specifics> <cutoff> <run length> <seed> -name value ...
//
// and must print one result line (see ParseResult) before exiting.
package procexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/run"
)

// MaxRunLength is passed as the run length when runs are bounded by time.
const MaxRunLength = 2147483647

const (
	maxStderrHeight = 20
	maxStderrWidth  = 200
)

type Options struct {
	// Tick is the interval between live status snapshots.
	Tick   time.Duration
	Logger *slog.Logger
}

type Evaluator struct {
	tick time.Duration
	log  *slog.Logger
}

var _ eval.Evaluator = (*Evaluator)(nil)

func New(opts Options) *Evaluator {
	if opts.Tick <= 0 {
		opts.Tick = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Evaluator{tick: opts.Tick, log: opts.Logger}
}

func (e *Evaluator) Caps() eval.Caps {
	return eval.Caps{Observable: true, Final: true}
}

func (e *Evaluator) Close() error { return nil }

// Command builds the wrapper invocation of a request.
func Command(req run.Request) (*exec.Cmd, error) {
	if req.Profile == nil || req.Profile.Executable == "" {
		return nil, fmt.Errorf("request %s has no executable", req)
	}
	specifics := req.ISP.Instance.Specifics
	if specifics == "" {
		specifics = "0"
	}
	args := []string{
		req.ISP.Instance.Name,
		specifics,
		strconv.FormatFloat(req.Cutoff, 'g', -1, 64),
		strconv.Itoa(MaxRunLength),
		strconv.FormatInt(req.ISP.Seed, 10),
	}
	args = append(args, run.ArgsOf(req.Config)...)
	cmd := exec.Command(req.Profile.Executable, args...)
	cmd.Dir = req.Profile.WorkDir
	return cmd, nil
}

type proc struct {
	req    run.Request
	handle *run.KillHandle
	start  time.Time
	out    run.Outcome
}

func (e *Evaluator) EvaluateAsync(ctx context.Context, batch []run.Request, obs eval.Observer, done eval.Callback) {
	procs := make([]*proc, len(batch))
	for i, req := range batch {
		procs[i] = &proc{req: req, handle: run.NewKillHandle(), out: run.Pending(req)}
	}

	var (
		mu       sync.Mutex
		finished bool
		wg       sync.WaitGroup
	)
	emit := func() {
		if obs == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		lives := make([]run.Live, len(procs))
		for i, p := range procs {
			o := p.out
			if o.Status == run.Running && !p.start.IsZero() {
				o.Runtime = time.Since(p.start).Seconds()
			}
			lives[i] = run.NewLive(o, p.handle)
		}
		obs(lives)
	}

	for _, p := range procs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.execute(ctx, p, &mu)
			mu.Lock()
			p.out = out
			mu.Unlock()
			emit()
		}()
	}

	stop := make(chan struct{})
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

	go func() {
		wg.Wait()
		close(stop)
		mu.Lock()
		finished = true
		outcomes := make([]run.Outcome, len(procs))
		for i, p := range procs {
			outcomes[i] = p.out
		}
		mu.Unlock()
		done(outcomes, nil)
	}()
}

func (e *Evaluator) execute(ctx context.Context, p *proc, mu *sync.Mutex) run.Outcome {
	if p.handle.Killed() || ctx.Err() != nil {
		return run.KilledBeforeStart(p.req)
	}
	log := e.log.With("request", p.req.String())

	cmd, err := Command(p.req)
	if err != nil {
		log.Error("cannot build wrapper command", "error", err)
		return crashed(p.req, 0, err.Error())
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return crashed(p.req, 0, err.Error())
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Error("failed to start wrapper", "error", err)
		return crashed(p.req, 0, err.Error())
	}
	mu.Lock()
	p.start = start
	mu.Unlock()

	exited := make(chan struct{})
	var killed bool
	var killMu sync.Mutex
	go func() {
		select {
		case <-p.handle.Done():
		case <-ctx.Done():
		case <-exited:
			return
		}
		killMu.Lock()
		killed = true
		killMu.Unlock()
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warn("failed to kill wrapper", "error", err)
		}
	}()

	var (
		res      Result
		found    bool
		parseErr error
	)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		r, ok, err := ParseResult(scanner.Text())
		if !ok {
			continue
		}
		if err != nil {
			parseErr = err
			continue
		}
		res, found, parseErr = r, true, nil
	}
	waitErr := cmd.Wait()
	close(exited)
	wall := time.Since(start)

	killMu.Lock()
	wasKilled := killed
	killMu.Unlock()

	if wasKilled && !found {
		return run.Outcome{Request: p.req, Status: run.Killed, Runtime: wall.Seconds(), Seed: p.req.ISP.Seed, WallClock: wall}
	}
	if !found {
		msg := trimStrToRect(stderr.String(), maxStderrHeight, maxStderrWidth)
		switch {
		case parseErr != nil:
			log.Warn("unparsable wrapper result", "error", parseErr, "stderr", msg)
		case waitErr != nil:
			log.Warn("wrapper failed", "error", waitErr, "stderr", msg)
		default:
			log.Warn("wrapper printed no result line", "stderr", msg)
		}
		o := crashed(p.req, wall.Seconds(), msg)
		o.WallClock = wall
		return o
	}

	status := res.Status
	if status.Decided() && res.Runtime > p.req.Cutoff {
		status = run.Timeout
	}
	return run.Outcome{
		Request:   p.req,
		Status:    status,
		Runtime:   res.Runtime,
		RunLength: res.RunLength,
		Quality:   res.Quality,
		Seed:      res.Seed,
		Extra:     res.Extra,
		WallClock: wall,
	}
}

func crashed(req run.Request, runtime float64, extra string) run.Outcome {
	return run.Outcome{Request: req, Status: run.Crashed, Runtime: runtime, Seed: req.ISP.Seed, Extra: extra}
}

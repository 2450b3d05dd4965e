package natsexec_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/natsexec"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/programme-lv/tuner/internal/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cfg string

func (c cfg) Key() string { return string(c) }

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func request(seed int64, cutoff float64, config string) run.Request {
	return run.Request{
		ISP:     run.ISP{Instance: run.Instance{Name: "a.cnf", Specifics: "opt=3"}, Seed: seed},
		Cutoff:  cutoff,
		Config:  cfg(config),
		Profile: &run.Profile{Executable: "./wrapper", CutoffMax: 100},
	}
}

func startWorker(t *testing.T, bus natsexec.Bus, ev eval.Evaluator) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, natsexec.Serve(ctx, bus, "tuner.runs", "workers", ev, logger))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	// let the subscription land before anything is published
	time.Sleep(10 * time.Millisecond)
}

func TestClientRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := natsexec.NewMemoryBus()
	prim := synth.New(func(req run.Request) synth.Result {
		return synth.Result{Status: run.Sat, Runtime: float64(req.ISP.Seed), Quality: 1}
	}, synth.Options{})
	startWorker(t, bus, prim)

	client := natsexec.NewClient(bus, "tuner.runs", logger)
	batch := []run.Request{request(3, 50, "x=1,y=2"), request(1, 50, "x=1,y=2"), request(2, 50, "x=2,y=2")}

	var updates int
	outcomes, err := eval.Evaluate(ctx, client, batch, func(lives []run.Live) {
		updates++
		assert.Len(t, lives, len(batch))
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, batch[i].Key(), o.Request.Key())
		assert.Equal(t, run.Sat, o.Status)
		assert.InDelta(t, float64(batch[i].ISP.Seed), o.Runtime, 1e-9)
		assert.Equal(t, batch[i].ISP.Seed, o.Seed)
	}
	assert.Positive(t, updates)
}

func TestClientKillReachesWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := natsexec.NewMemoryBus()
	prim := synth.New(synth.ByConfig(map[string]float64{"x=1": 5, "x=2": 5000}), synth.Options{})
	startWorker(t, bus, prim)

	client := natsexec.NewClient(bus, "tuner.runs", logger)
	stack := eval.BuildStack(client, eval.StackOptions{Parallelism: 4, Strict: true, Logger: logger})

	batch := []run.Request{request(1, 6000, "x=1"), request(2, 6000, "x=2")}
	outcomes, err := eval.Evaluate(ctx, stack, batch, func(lives []run.Live) {
		// only once the worker reports the run as started
		if lives[1].Status == run.Running && lives[1].Runtime > 0 {
			lives[1].Kill()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, run.Sat, outcomes[0].Status)
	assert.Equal(t, run.Killed, outcomes[1].Status)
	assert.Less(t, outcomes[1].Runtime, 5000.0)
	assert.Equal(t, int64(2), prim.Executions())
}

// broken fails every batch.
type broken struct{}

func (broken) EvaluateAsync(_ context.Context, _ []run.Request, _ eval.Observer, done eval.Callback) {
	go done(nil, errors.New("sandbox unavailable"))
}
func (broken) Caps() eval.Caps { return eval.Caps{} }
func (broken) Close() error    { return nil }

func TestWorkerFailureIsTransportError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := natsexec.NewMemoryBus()
	startWorker(t, bus, broken{})

	client := natsexec.NewClient(bus, "tuner.runs", logger)
	_, err := eval.Evaluate(ctx, client, []run.Request{request(1, 10, "x=1")}, nil)
	require.ErrorIs(t, err, eval.ErrTransport)
	assert.Contains(t, err.Error(), "sandbox unavailable")
}

package history_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/programme-lv/tuner/internal/history"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cfg string

func (c cfg) Key() string { return string(c) }

func outcome(seed int64, config string) run.Outcome {
	req := run.Request{ISP: run.ISP{Instance: run.Instance{Name: "a"}, Seed: seed}, Cutoff: 5, Config: cfg(config)}
	return run.Outcome{Request: req, Status: run.Sat, Runtime: 1}
}

func TestMemoryRejectsDuplicates(t *testing.T) {
	h := history.NewMemory()
	require.NoError(t, h.Append([]run.Outcome{outcome(1, "x"), outcome(2, "x")}))

	err := h.Append([]run.Outcome{outcome(3, "x"), outcome(1, "x")})
	require.ErrorIs(t, err, history.ErrDuplicateRun)
	assert.Equal(t, 2, h.Len())

	err = h.Append([]run.Outcome{outcome(4, "x"), outcome(4, "x")})
	require.ErrorIs(t, err, history.ErrDuplicateRun)

	_, ok := h.Lookup(outcome(3, "x").Request)
	assert.False(t, ok)
}

func TestMemoryRejectsLiveOutcomes(t *testing.T) {
	h := history.NewMemory()
	o := outcome(1, "x")
	o.Status = run.Running
	assert.Error(t, h.Append([]run.Outcome{o}))
}

func TestMemoryConcurrentAppend(t *testing.T) {
	h := history.NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.Append([]run.Outcome{outcome(int64(i), "x"), outcome(int64(i), "y")}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 40, h.Len())
	assert.Len(t, h.ByConfig()["y"], 20)
}

type broken struct{ calls int }

func (b *broken) Append([]run.Outcome) error {
	b.calls++
	return errors.New("disk full")
}

func TestTee(t *testing.T) {
	mem := history.NewMemory()
	sink := &broken{}
	h := history.Tee(mem, sink)

	err := h.Append([]run.Outcome{outcome(1, "x")})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, mem.Len())

	err = h.Append([]run.Outcome{outcome(1, "x")})
	assert.ErrorIs(t, err, history.ErrDuplicateRun)
	assert.Equal(t, 1, sink.calls)
}

package behave

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/programme-lv/tuner/internal/run"
	"github.com/programme-lv/tuner/internal/space"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarios(t *testing.T) {
	cases, err := Parse(filepath.Join("testdata", "scenarios.toml"))
	require.NoError(t, err)
	require.Len(t, cases, 2)

	slow := cases[0]
	assert.Equal(t, "slow default is replaced", slow.Name)
	assert.Equal(t, "speed=40", slow.Space.Default().Key())
	assert.Len(t, slow.Instances, 4)
	assert.Equal(t, 32.0, slow.Options.Profile.CutoffMax)
	require.NotNil(t, slow.Expect.Changed)
	assert.True(t, *slow.Expect.Changed)

	fast := cases[1]
	assert.Equal(t, 3, fast.Options.Challengers)
	assert.Equal(t, "x=1", fast.Expect.Incumbent)
}

func TestBehaviourPricing(t *testing.T) {
	cases, err := Parse(filepath.Join("testdata", "scenarios.toml"))
	require.NoError(t, err)

	at := func(c Case, key string, value string) run.Request {
		rng := rand.New(rand.NewPCG(1, 2))
		var cfg space.Assignment
		for range 10000 {
			cfg = c.Space.Sample(rng).(space.Assignment)
			if v, _ := cfg.Value(key); v == value {
				break
			}
		}
		return run.Request{Config: cfg, Cutoff: 32}
	}

	res := cases[0].Behaviour(at(cases[0], "speed", "7"))
	assert.Equal(t, run.Sat, res.Status)
	assert.Equal(t, 7.0, res.Runtime)

	res = cases[1].Behaviour(at(cases[1], "x", "1"))
	assert.Equal(t, run.Sat, res.Status)
	res = cases[1].Behaviour(at(cases[1], "x", "2"))
	assert.Equal(t, run.Timeout, res.Status)
}

func TestParseRejectsUnknownRuntimeParam(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[scenarios]]
description = "bad"
instances = ["a"]
runtime_param = "nope"
[[scenarios.param]]
name = "x"
values = ["1", "2"]
`), 0o644))
	_, err := Parse(path)
	assert.ErrorContains(t, err, "nope")
}

func TestRunScenarios(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cases, err := Parse(filepath.Join("testdata", "scenarios.toml"))
	require.NoError(t, err)
	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			v, err := Run(ctx, c, RunOptions{})
			require.NoError(t, err)
			assert.True(t, v.Passed(), "failures: %v", v.Failures)
			assert.Positive(t, v.Runs)
		})
	}
}

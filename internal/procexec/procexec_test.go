package procexec_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/procexec"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cfg string

func (c cfg) Key() string { return string(c) }

func TestParseResult(t *testing.T) {
	res, ok, err := procexec.ParseResult("Result for SMAC: SAT, 0.25, 12, 0, 42, solved fast")
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, procexec.Result{Status: run.Sat, Runtime: 0.25, RunLength: 12, Seed: 42, Extra: "solved fast"}, res)

	res, ok, err = procexec.ParseResult("Result of this algorithm run: success, 1, 0, 3.5, 7")
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, run.Sat, res.Status)
	assert.Equal(t, 3.5, res.Quality)

	_, ok, _ = procexec.ParseResult("c restarts: 10")
	assert.False(t, ok)

	_, ok, err = procexec.ParseResult("Result for SMAC: SAT, fast, 0, 0, 1")
	assert.True(t, ok)
	assert.Error(t, err)

	_, _, err = procexec.ParseResult("Result for SMAC: RUNNING, 1, 0, 0, 1")
	assert.Error(t, err)
}

func TestCommand(t *testing.T) {
	req := run.Request{
		ISP:     run.ISP{Instance: run.Instance{Name: "a.cnf"}, Seed: 9},
		Cutoff:  2.5,
		Config:  cfg("restarts=10"),
		Profile: &run.Profile{Executable: "./wrapper.sh", WorkDir: "/tmp"},
	}
	cmd, err := procexec.Command(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"./wrapper.sh", "a.cnf", "0", "2.5", "2147483647", "9", "-restarts", "10"}, cmd.Args)
	assert.Equal(t, "/tmp", cmd.Dir)

	req.Profile = nil
	_, err = procexec.Command(req)
	assert.Error(t, err)
}

func wrapper(t *testing.T, body string) *run.Profile {
	if runtime.GOOS == "windows" {
		t.Skip("wrapper scripts need a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "wrapper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return &run.Profile{Executable: path, WorkDir: dir, CutoffMax: 10}
}

func TestEvaluateWrapper(t *testing.T) {
	profile := wrapper(t, `echo "c instance $1"
if [ "$7" = "bad" ]; then echo "oops" >&2; exit 3; fi
echo "Result for SMAC: SAT, 0.5, 0, 0, $5"`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ev := procexec.New(procexec.Options{Tick: 10 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	good := run.Request{ISP: run.ISP{Instance: run.Instance{Name: "a.cnf"}, Seed: 5}, Cutoff: 2, Config: cfg("mode=good"), Profile: profile}
	bad := good
	bad.Config = cfg("mode=bad")
	slow := good
	slow.Cutoff = 0.1

	outcomes, err := eval.Evaluate(ctx, ev, []run.Request{good, bad, slow}, nil)
	require.NoError(t, err)
	assert.Equal(t, run.Sat, outcomes[0].Status)
	assert.Equal(t, int64(5), outcomes[0].Seed)
	assert.Equal(t, 0.5, outcomes[0].Runtime)

	assert.Equal(t, run.Crashed, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Extra, "oops")

	assert.Equal(t, run.Timeout, outcomes[2].Status)
}

func TestKillWrapper(t *testing.T) {
	profile := wrapper(t, `exec sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ev := procexec.New(procexec.Options{Tick: 10 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	req := run.Request{ISP: run.ISP{Instance: run.Instance{Name: "a.cnf"}, Seed: 1}, Cutoff: 60, Config: cfg("x=1"), Profile: profile}
	start := time.Now()
	outcomes, err := eval.Evaluate(ctx, ev, []run.Request{req}, func(lives []run.Live) {
		if lives[0].Runtime > 0.05 {
			lives[0].Kill()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, run.Killed, outcomes[0].Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

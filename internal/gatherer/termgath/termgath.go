// Package termgath prints race progress to a terminal.
package termgath

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/tuner/internal/run"
)

type TerminalGatherer struct {
	mu        sync.Mutex
	out       io.Writer
	StartedAt time.Time
}

func New() *TerminalGatherer { return NewWriter(os.Stdout) }

func NewWriter(w io.Writer) *TerminalGatherer {
	return &TerminalGatherer{out: w, StartedAt: time.Now()}
}

var (
	decided  = color.New(color.FgGreen)
	timedOut = color.New(color.FgYellow)
	crashed  = color.New(color.FgRed)
	killed   = color.New(color.FgHiBlack)
	bold     = color.New(color.Bold)
)

func statusColor(s run.Status) *color.Color {
	switch s {
	case run.Sat, run.Unsat:
		return decided
	case run.Timeout:
		return timedOut
	case run.Crashed:
		return crashed
	}
	return killed
}

func (t *TerminalGatherer) StartRace(incumbent string, requests int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bold.Fprintf(t.out, "== Race started: incumbent [%s], %d phase 1 requests ==\n", incumbent, requests)
}

// Append prints one line per outcome. It never fails.
func (t *TerminalGatherer) Append(outcomes []run.Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, o := range outcomes {
		statusColor(o.Status).Fprintf(t.out, "%-8s", o.Status)
		fmt.Fprintf(t.out, " %s k=%g runtime=%.3f quality=%g cfg=[%s]\n",
			o.Request.ISP, o.Request.Cutoff, o.Runtime, o.Quality, configKey(o.Request.Config))
	}
	return nil
}

func (t *TerminalGatherer) FinishRace(incumbent string, objective float64, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dur := time.Since(t.StartedAt).Round(time.Millisecond)
	verdict := "kept"
	if changed {
		verdict = "replaced"
	}
	bold.Fprintf(t.out, "== Race finished in %s: incumbent %s, now [%s] objective=%g ==\n", dur, verdict, incumbent, objective)
}

func (t *TerminalGatherer) InternalError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	crashed.Fprintf(t.out, "== Internal error: %s ==\n", msg)
}

func configKey(c run.Config) string {
	if c == nil {
		return ""
	}
	return c.Key()
}

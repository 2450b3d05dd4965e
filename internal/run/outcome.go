package run

import (
	"fmt"
	"time"
)

// Outcome is the result of one Request. An Outcome with a terminal status is
// never changed again.
type Outcome struct {
	Request   Request
	Status    Status
	Runtime   float64
	RunLength float64
	Quality   float64
	// Seed is the seed the algorithm actually used.
	Seed      int64
	Extra     string
	WallClock time.Duration
}

// Pending returns the RUNNING outcome reported before any update arrived.
func Pending(req Request) Outcome {
	return Outcome{Request: req, Status: Running, Seed: req.ISP.Seed}
}

// KilledBeforeStart is the outcome of a request that was killed before it
// was handed to a worker.
func KilledBeforeStart(req Request) Outcome {
	return Outcome{Request: req, Status: Killed, Seed: req.ISP.Seed}
}

func (o Outcome) Decided() bool {
	return o.Status.Decided()
}

// UsedFullCutoff reports whether the run consumed its whole cutoff, which is
// not the same as being undecided: a run can be killed early or crash.
func (o Outcome) UsedFullCutoff() bool {
	return o.Status == Timeout || (o.Status.Terminal() && o.Runtime >= o.Request.Cutoff)
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s, %g, %g, %g, %d, %s", o.Status, o.Runtime, o.RunLength, o.Quality, o.Seed, o.Extra)
}

// Live is a snapshot of an outcome that may still be running. Observers kill
// runs through it.
type Live struct {
	Outcome
	handle *KillHandle
}

func NewLive(o Outcome, h *KillHandle) Live {
	return Live{Outcome: o, handle: h}
}

// Kill asks for the run to be terminated. It returns immediately; the
// resulting KILLED outcome arrives through the regular outcome stream.
// Killing a terminal snapshot is a no-op.
func (l Live) Kill() {
	if l.Status.Terminal() || l.handle == nil {
		return
	}
	l.handle.Kill()
}

func (l Live) KillRequested() bool {
	return l.handle != nil && l.handle.Killed()
}

// Handle exposes the kill handle so decorators can forward it.
func (l Live) Handle() *KillHandle {
	return l.handle
}

// Outcomes strips the kill handles from a snapshot.
func Outcomes(lives []Live) []Outcome {
	res := make([]Outcome, len(lives))
	for i, l := range lives {
		res[i] = l.Outcome
	}
	return res
}

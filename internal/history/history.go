// Package history records every terminal outcome the tuner receives.
package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/programme-lv/tuner/internal/run"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrDuplicateRun is returned when a request is appended a second time.
var ErrDuplicateRun = errors.New("run already recorded")

// History is a thread-safe sink for outcome batches.
type History interface {
	Append(outcomes []run.Outcome) error
}

// Memory keeps outcomes in arrival order and indexes them by request.
type Memory struct {
	mu    sync.Mutex
	order []run.Outcome
	index *xsync.MapOf[string, run.Outcome]
}

func NewMemory() *Memory {
	return &Memory{index: xsync.NewMapOf[string, run.Outcome]()}
}

// Append records a batch atomically: either all outcomes are stored or, when
// one of them is already known, none is.
func (m *Memory) Append(outcomes []run.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, len(outcomes))
	seen := make(map[string]bool, len(outcomes))
	for i, o := range outcomes {
		if !o.Status.Terminal() {
			return fmt.Errorf("cannot record %s: status %s is not terminal", o.Request, o.Status)
		}
		keys[i] = o.Request.Key()
		if _, ok := m.index.Load(keys[i]); ok || seen[keys[i]] {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, o.Request)
		}
		seen[keys[i]] = true
	}
	for i, o := range outcomes {
		m.index.Store(keys[i], o)
		m.order = append(m.order, o)
	}
	return nil
}

// Lookup returns the recorded outcome of a request.
func (m *Memory) Lookup(req run.Request) (run.Outcome, bool) {
	return m.index.Load(req.Key())
}

// Runs returns a copy of every recorded outcome in arrival order.
func (m *Memory) Runs() []run.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]run.Outcome, len(m.order))
	copy(res, m.order)
	return res
}

func (m *Memory) Len() int {
	return m.index.Size()
}

// ByConfig groups recorded outcomes by configuration key.
func (m *Memory) ByConfig() map[string][]run.Outcome {
	res := make(map[string][]run.Outcome)
	for _, o := range m.Runs() {
		var key string
		if o.Request.Config != nil {
			key = o.Request.Config.Key()
		}
		res[key] = append(res[key], o)
	}
	return res
}

type tee []History

// Tee appends every batch to all sinks in order and joins their errors.
// The first sink is the authority on duplicates: if it rejects a batch the
// others never see it.
func Tee(first History, rest ...History) History {
	return append(tee{first}, rest...)
}

func (t tee) Append(outcomes []run.Outcome) error {
	if err := t[0].Append(outcomes); err != nil {
		return err
	}
	var errs []error
	for _, h := range t[1:] {
		if err := h.Append(outcomes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package run

import (
	"sync"
	"sync/atomic"
)

// KillHandle is the shared cell between whoever observes a run and whoever
// executes it. The executor polls Killed or selects on Done.
type KillHandle struct {
	killed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func NewKillHandle() *KillHandle {
	return &KillHandle{done: make(chan struct{})}
}

// Kill is safe to call any number of times from any goroutine.
func (h *KillHandle) Kill() {
	h.once.Do(func() {
		h.killed.Store(true)
		close(h.done)
	})
}

func (h *KillHandle) Killed() bool {
	return h.killed.Load()
}

func (h *KillHandle) Done() <-chan struct{} {
	return h.done
}

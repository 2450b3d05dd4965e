package eval

import (
	"sync"

	"github.com/programme-lv/tuner/internal/run"
)

// board keeps the latest live outcome of every request of one batch and
// forwards whole snapshots to the batch's observer. Decorators that split a
// batch into sub-submissions use it to reassemble ordered snapshots.
//
// The observer is called with the board locked, so calls for one batch never
// overlap, and it is never called after close.
type board struct {
	mu     sync.Mutex
	lives  []run.Live
	obs    Observer
	closed bool
}

func newBoard(lives []run.Live, obs Observer) *board {
	return &board{lives: lives, obs: obs}
}

// pendingLives returns RUNNING placeholders with fresh kill handles.
func pendingLives(batch []run.Request) []run.Live {
	lives := make([]run.Live, len(batch))
	for i, req := range batch {
		lives[i] = run.NewLive(run.Pending(req), run.NewKillHandle())
	}
	return lives
}

// update replaces the lives at the given batch indices and emits a snapshot.
// A kill requested on a replaced placeholder is carried over to its
// replacement.
func (b *board) update(idx []int, lives []run.Live) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for k, i := range idx {
		if k >= len(lives) {
			break
		}
		prev := b.lives[i]
		next := lives[k]
		if prev.KillRequested() && !next.Status.Terminal() && prev.Handle() != next.Handle() {
			next.Kill()
		}
		b.lives[i] = next
	}
	b.emitLocked()
}

// replace swaps in lives without emitting a snapshot.
func (b *board) replace(i int, l run.Live) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lives[i] = l
}

func (b *board) killRequested(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lives[i].KillRequested()
}

func (b *board) handle(i int) *run.KillHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lives[i].Handle()
}

// publish emits the current snapshot unchanged.
func (b *board) publish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.emitLocked()
	}
}

func (b *board) emitLocked() {
	if b.obs == nil {
		return
	}
	snapshot := make([]run.Live, len(b.lives))
	copy(snapshot, b.lives)
	b.obs(snapshot)
}

// close stops all further observer calls. It must happen before the batch's
// callback is invoked.
func (b *board) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func subBatch(batch []run.Request, idx []int) []run.Request {
	sub := make([]run.Request, len(idx))
	for k, i := range idx {
		sub[k] = batch[i]
	}
	return sub
}

package natsexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/programme-lv/tuner/api"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/run"
)

// Client is a primitive Evaluator that hands batches to workers listening on
// a NATS subject.
type Client struct {
	bus     Bus
	subject string
	log     *slog.Logger
}

var _ eval.Evaluator = (*Client)(nil)

func NewClient(bus Bus, subject string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{bus: bus, subject: subject, log: logger}
}

func (c *Client) Caps() eval.Caps {
	return eval.Caps{Observable: true, Final: true}
}

func (c *Client) Close() error { return nil }

// clientBatch is the tuner-side state of one batch in flight.
type clientBatch struct {
	c     *Client
	id    string
	batch []run.Request
	obs   eval.Observer
	done  eval.Callback

	mu       sync.Mutex
	lives    []run.Live
	finished bool
	unsub    func() error
	stop     chan struct{}
	killSubj string
}

func (c *Client) EvaluateAsync(ctx context.Context, batch []run.Request, obs eval.Observer, done eval.Callback) {
	b := &clientBatch{
		c:     c,
		id:    uuid.NewString(),
		batch: batch,
		obs:   obs,
		done:  done,
		lives: make([]run.Live, len(batch)),
		stop:  make(chan struct{}),
	}
	for i, req := range batch {
		b.lives[i] = run.NewLive(run.Pending(req), run.NewKillHandle())
	}

	inbox := c.bus.NewInbox()
	b.killSubj = inbox + ".kill"

	b.mu.Lock()
	unsub, err := c.bus.Subscribe(inbox, b.receive)
	if err != nil {
		b.mu.Unlock()
		done(nil, fmt.Errorf("%w: subscribe %s: %v", eval.ErrTransport, inbox, err))
		return
	}
	b.unsub = unsub
	b.mu.Unlock()

	reqs := make([]api.RunReq, len(batch))
	for i, r := range batch {
		reqs[i] = api.NewRunReq(r)
	}
	data, err := api.Encode(api.BatchReq{BatchUuid: b.id, ReplySubj: inbox, KillSubj: b.killSubj, Runs: reqs})
	if err == nil {
		err = c.bus.Publish(c.subject, data)
	}
	if err != nil {
		b.fail(fmt.Errorf("%w: publish batch %s: %v", eval.ErrTransport, b.id, err))
		return
	}
	c.log.Debug("batch published", "batch_uuid", b.id, "subject", c.subject, "runs", len(batch))

	for i := range batch {
		go b.forwardKill(ctx, i)
	}
}

// forwardKill sends a kill message when the run's handle is killed or the
// context ends, whichever comes first.
func (b *clientBatch) forwardKill(ctx context.Context, i int) {
	b.mu.Lock()
	h := b.lives[i].Handle()
	b.mu.Unlock()

	select {
	case <-h.Done():
	case <-ctx.Done():
	case <-b.stop:
		return
	}
	data, err := api.Encode(api.NewKillRun(b.id, i))
	if err == nil {
		err = b.c.bus.Publish(b.killSubj, data)
	}
	if err != nil {
		b.c.log.Warn("failed to forward kill", "batch_uuid", b.id, "index", i, "error", err)
	}
}

func (b *clientBatch) receive(data []byte) {
	h, err := api.PeekHeader(data)
	if err != nil {
		b.c.log.Error("undecodable message from worker", "batch_uuid", b.id, "error", err)
		return
	}
	if h.BatchUuid != b.id {
		return
	}

	switch h.MsgType {
	case api.UpdateBatchMsg:
		var msg api.UpdateBatch
		if err := api.Decode(data, &msg); err != nil {
			b.c.log.Error("undecodable batch update", "batch_uuid", b.id, "error", err)
			return
		}
		b.update(msg.Runs)
	case api.FinishBatchMsg:
		var msg api.FinishBatch
		if err := api.Decode(data, &msg); err != nil {
			b.fail(fmt.Errorf("%w: batch %s: %v", eval.ErrTransport, b.id, err))
			return
		}
		b.finish(msg.Runs)
	case api.FailBatchMsg:
		var msg api.FailBatch
		if err := api.Decode(data, &msg); err != nil {
			msg.ErrorMessage = err.Error()
		}
		b.fail(fmt.Errorf("%w: worker failed batch %s: %s", eval.ErrTransport, b.id, msg.ErrorMessage))
	}
}

func (b *clientBatch) update(states []api.RunState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	for _, s := range states {
		if s.Index < 0 || s.Index >= len(b.lives) {
			continue
		}
		prev := b.lives[s.Index]
		if prev.Status.Terminal() {
			continue
		}
		b.lives[s.Index] = run.NewLive(applyState(b.batch[s.Index], s), prev.Handle())
	}
	if b.obs != nil {
		snapshot := make([]run.Live, len(b.lives))
		copy(snapshot, b.lives)
		b.obs(snapshot)
	}
}

func (b *clientBatch) finish(states []api.RunState) {
	if len(states) != len(b.batch) {
		b.fail(fmt.Errorf("%w: worker returned %d outcomes for a batch of %d", eval.ErrContractViolation, len(states), len(b.batch)))
		return
	}
	outcomes := make([]run.Outcome, len(b.batch))
	for _, s := range states {
		if s.Index < 0 || s.Index >= len(b.batch) {
			b.fail(fmt.Errorf("%w: worker returned outcome index %d", eval.ErrContractViolation, s.Index))
			return
		}
		outcomes[s.Index] = applyState(b.batch[s.Index], s)
	}
	if b.close() {
		b.done(outcomes, nil)
	}
}

func (b *clientBatch) fail(err error) {
	if b.close() {
		b.done(nil, err)
	}
}

// close marks the batch finished and reports whether this call did it.
func (b *clientBatch) close() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return false
	}
	b.finished = true
	close(b.stop)
	if b.unsub != nil {
		if err := b.unsub(); err != nil {
			b.c.log.Warn("failed to unsubscribe", "batch_uuid", b.id, "error", err)
		}
	}
	return true
}

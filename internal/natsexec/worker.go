package natsexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/programme-lv/tuner/api"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/run"
)

// Serve evaluates batches published on subject with the local Evaluator
// until ctx is done. Workers sharing a queue group split the batches between
// them. Batches still running when ctx ends are killed and reported as
// failed.
func Serve(ctx context.Context, bus Bus, subject, queue string, ev eval.Evaluator, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	var wg sync.WaitGroup
	unsub, err := bus.QueueSubscribe(subject, queue, func(data []byte) {
		var req api.BatchReq
		if err := api.Decode(data, &req); err != nil {
			logger.Error("undecodable batch request", "error", err)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveBatch(ctx, bus, ev, req, logger)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	logger.Info("worker listening", "subject", subject, "queue", queue)

	<-ctx.Done()
	if err := unsub(); err != nil {
		logger.Warn("failed to unsubscribe", "subject", subject, "error", err)
	}
	wg.Wait()
	return nil
}

// workerBatch is the worker-side state of one batch.
type workerBatch struct {
	mu     sync.Mutex
	lives  []run.Live
	killed []bool
}

func (w *workerBatch) kill(i int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.killed) {
		return
	}
	w.killed[i] = true
	if w.lives[i].Handle() != nil {
		w.lives[i].Kill()
	}
}

// observe stores the snapshot and applies kills that arrived before the
// run was first seen.
func (w *workerBatch) observe(lives []run.Live) {
	w.mu.Lock()
	defer w.mu.Unlock()
	copy(w.lives, lives)
	for i, l := range lives {
		if w.killed[i] {
			l.Kill()
		}
	}
}

func serveBatch(ctx context.Context, bus Bus, ev eval.Evaluator, req api.BatchReq, logger *slog.Logger) {
	log := logger.With("batch_uuid", req.BatchUuid)
	send := func(msg any) {
		data, err := api.Encode(msg)
		if err == nil {
			err = bus.Publish(req.ReplySubj, data)
		}
		if err != nil {
			log.Error("failed to publish to tuner", "subject", req.ReplySubj, "error", err)
		}
	}

	batch := fromRunReqs(req.Runs)
	w := &workerBatch{lives: make([]run.Live, len(batch)), killed: make([]bool, len(batch))}

	unsub, err := bus.Subscribe(req.KillSubj, func(data []byte) {
		var msg api.KillRun
		if err := api.Decode(data, &msg); err != nil || msg.BatchUuid != req.BatchUuid {
			return
		}
		log.Debug("kill requested", "index", msg.Index)
		w.kill(msg.Index)
	})
	if err != nil {
		send(api.NewFailBatch(req.BatchUuid, fmt.Sprintf("subscribe to kills: %v", err)))
		return
	}
	defer func() {
		if err := unsub(); err != nil {
			log.Warn("failed to unsubscribe from kills", "error", err)
		}
	}()

	log.Info("evaluating batch", "runs", len(batch))
	outcomes, err := eval.Evaluate(ctx, ev, batch, func(lives []run.Live) {
		w.observe(lives)
		send(api.NewUpdateBatch(req.BatchUuid, toRunStates(run.Outcomes(lives))))
	})
	if err != nil {
		log.Error("batch failed", "error", err)
		send(api.NewFailBatch(req.BatchUuid, err.Error()))
		return
	}
	send(api.NewFinishBatch(req.BatchUuid, toRunStates(outcomes)))
}

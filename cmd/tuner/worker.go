package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/natsexec"
	"github.com/programme-lv/tuner/internal/procexec"
	"github.com/urfave/cli/v3"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "execute batches received over NATS on this machine",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if cfg.NatsURL == "" {
				return fmt.Errorf("worker needs nats_url")
			}
			nc, err := nats.Connect(cfg.NatsURL, nats.Name("tuner-worker"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			// retries and caching stay with the tuner that owns the race
			ev := eval.Chain(procexec.New(procexec.Options{Logger: logger}),
				eval.WithParallelism(cfg.Parallelism),
			)
			defer ev.Close()
			return natsexec.Serve(ctx, natsexec.NewNatsBus(nc), cfg.NatsSubject, cfg.NatsQueue, ev, logger)
		},
	}
}

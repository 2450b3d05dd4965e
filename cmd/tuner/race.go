package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/programme-lv/tuner/internal/environment"
	"github.com/programme-lv/tuner/internal/eval"
	"github.com/programme-lv/tuner/internal/gatherer/sqsgath"
	"github.com/programme-lv/tuner/internal/gatherer/termgath"
	"github.com/programme-lv/tuner/internal/history"
	"github.com/programme-lv/tuner/internal/instances"
	"github.com/programme-lv/tuner/internal/intensify"
	"github.com/programme-lv/tuner/internal/natsexec"
	"github.com/programme-lv/tuner/internal/objective"
	"github.com/programme-lv/tuner/internal/procexec"
	"github.com/programme-lv/tuner/internal/run"
	"github.com/programme-lv/tuner/internal/space"
	"github.com/urfave/cli/v3"
)

func raceCommand() *cli.Command {
	return &cli.Command{
		Name:  "race",
		Usage: "run intensification rounds starting from the default configuration",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rounds", Value: 1, Usage: "number of races, each starting from the previous winner"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			return race(ctx, cfg, logger, int(cmd.Int("rounds")))
		},
	}
}

func race(ctx context.Context, cfg environment.Config, logger *slog.Logger, rounds int) error {
	sp, err := space.ReadDiscrete(cfg.SpaceFile)
	if err != nil {
		return err
	}
	insts, err := instances.ReadList(cfg.InstanceFile)
	if err != nil {
		return err
	}
	obj, err := objective.Parse(cfg.Objective, cfg.Penalty)
	if err != nil {
		return err
	}

	primitive, closeTransport, err := primitiveFor(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	registry := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	stack := eval.BuildStack(primitive, eval.StackOptions{
		Parallelism:    cfg.Parallelism,
		Retries:        cfg.Retries,
		OverrunFactor:  cfg.OverrunFactor,
		CacheCompleted: cfg.CacheCompleted,
		Strict:         cfg.Strict,
		Metrics:        registry,
		Logger:         logger,
	})
	defer stack.Close()
	logger.Debug("evaluator stack", "layers", stack.Layers())

	raceUuid := uuid.NewString()
	term := termgath.New()
	sinks := []history.History{term}
	if cfg.SqsQueueURL != "" {
		sq, err := sqsgath.New(ctx, cfg.SqsRegion, cfg.SqsQueueURL, raceUuid)
		if err != nil {
			return err
		}
		sinks = append(sinks, sq)
	}
	mem := history.NewMemory()
	hist := history.Tee(mem, sinks...)

	seedOpts := instances.Options{}
	if cfg.Deterministic {
		seedOpts.Limit = 1
	}
	seeds := instances.NewGenerator(insts, cfg.Seed, seedOpts)

	capper, err := intensify.New(stack, sp, seeds, obj, hist, intensify.Options{
		Challengers:       cfg.Challengers,
		RunsPerChallenger: cfg.RunsPerChallenger,
		Profile: &run.Profile{
			Executable:    cfg.Executable,
			WorkDir:       cfg.WorkDir,
			Deterministic: cfg.Deterministic,
			CutoffMax:     cfg.CutoffMax,
		},
		Seed:   cfg.Seed,
		Logger: logger.With("race", raceUuid),
	})
	if err != nil {
		return err
	}

	levels := intensify.Geometric{}.Levels(cfg.CutoffMax, cfg.Challengers)
	planned := cfg.Challengers * cfg.RunsPerChallenger * len(levels)

	incumbent := sp.Default()
	for round := range rounds {
		term.StartRace(incumbent.Key(), planned)
		res, err := capper.Run(ctx, incumbent)
		if err != nil {
			term.InternalError(err.Error())
			return fmt.Errorf("round %d: %w", round+1, err)
		}
		term.FinishRace(res.Incumbent.Key(), res.Objective, res.Changed)
		incumbent = res.Incumbent
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stack.Outstanding.WaitIdle(waitCtx); err != nil {
		logger.Warn("runs still outstanding at exit", "count", stack.Outstanding.Count())
	}
	logger.Info("tuning finished", "incumbent", incumbent.Key(), "runs", mem.Len())
	return nil
}

// primitiveFor runs targets locally unless a NATS server is configured.
func primitiveFor(cfg environment.Config, logger *slog.Logger) (eval.Evaluator, func(), error) {
	if cfg.NatsURL == "" {
		return procexec.New(procexec.Options{Logger: logger}), func() {}, nil
	}
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("tuner"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	client := natsexec.NewClient(natsexec.NewNatsBus(nc), cfg.NatsSubject, logger)
	return client, nc.Close, nil
}

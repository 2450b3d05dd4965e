package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/programme-lv/tuner/internal/environment"
	"github.com/programme-lv/tuner/internal/logging"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "tuner",
		Usage: "race target algorithm configurations with adaptive capping",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML configuration file",
				Sources: cli.EnvVars("TUNER_CONFIG"),
			},
			&cli.IntFlag{Name: "parallelism", Usage: "runs executing at once"},
			&cli.IntFlag{Name: "seed", Usage: "seed of the race and the instance seed streams"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Commands: []*cli.Command{
			raceCommand(),
			workerCommand(),
			behaveCommand(),
			healthCommand(),
		},
	}
	panicOnError(cmd.Run(ctx, os.Args))
}

// setup loads the configuration, applies flag overrides and builds the
// logger every command starts from.
func setup(cmd *cli.Command) (environment.Config, *slog.Logger, error) {
	cfg, err := environment.Load(cmd.String("config"))
	if err != nil {
		return cfg, nil, err
	}
	if cmd.IsSet("parallelism") {
		cfg.Parallelism = int(cmd.Int("parallelism"))
	}
	if cmd.IsSet("seed") {
		cfg.Seed = int64(cmd.Int("seed"))
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func panicOnError(err error) {
	if err != nil {
		log.Panic(err)
	}
}

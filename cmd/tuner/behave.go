package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/tuner/internal/behave"
	"github.com/urfave/cli/v3"
)

func behaveCommand() *cli.Command {
	return &cli.Command{
		Name:      "behave",
		Usage:     "run synthetic race scenarios from a TOML file",
		ArgsUsage: "<scenarios.toml>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "scale", Value: time.Millisecond, Usage: "wall-clock length of one synthetic second"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("scenario file is required")
			}
			cases, err := behave.Parse(path)
			if err != nil {
				return err
			}

			failed := 0
			for _, c := range cases {
				v, err := behave.Run(ctx, c, behave.RunOptions{
					Scale:       cmd.Duration("scale"),
					Parallelism: cfg.Parallelism,
					Logger:      logger,
				})
				if err != nil {
					color.Red("ERROR %s: %v", c.Name, err)
					failed++
					continue
				}
				if !v.Passed() {
					color.Red("FAIL  %s (%s)", c.Name, v.Elapsed.Round(time.Millisecond))
					for _, f := range v.Failures {
						fmt.Printf("      %s\n", f)
					}
					failed++
					continue
				}
				color.Green("PASS  %s (%s) incumbent=[%s] objective=%g runs=%d",
					c.Name, v.Elapsed.Round(time.Millisecond), v.Result.Incumbent.Key(), v.Result.Objective, v.Runs)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(cases))
			}
			return nil
		},
	}
}

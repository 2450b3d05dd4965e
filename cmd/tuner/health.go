package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	pretty_table "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nats-io/nats.go"
	"github.com/programme-lv/tuner/internal/environment"
	"github.com/urfave/cli/v3"
)

type feedbackRow struct {
	unit    string
	health  int // 0 - OK, 1 - Warning, 2 - Error
	message string
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "check that the configured wrapper and transports are usable",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			feedback := []feedbackRow{
				ensureExecutableOk(cfg),
				ensureFileOk("Space file", cfg.SpaceFile),
				ensureFileOk("Instance file", cfg.InstanceFile),
				ensureNatsOk(cfg),
				ensureSqsOk(ctx, cfg),
			}
			outputFeedback(os.Stdout, feedback)
			for _, row := range feedback {
				if row.health == 2 {
					return fmt.Errorf("%s is unhealthy", row.unit)
				}
			}
			return nil
		},
	}
}

func ensureExecutableOk(cfg environment.Config) feedbackRow {
	if cfg.Executable == "" {
		return feedbackRow{unit: "Wrapper", health: 2, message: "executable is not configured"}
	}
	path, err := exec.LookPath(cfg.Executable)
	if err != nil {
		return feedbackRow{unit: "Wrapper", health: 2, message: err.Error()}
	}
	if st, err := os.Stat(cfg.WorkDir); err != nil || !st.IsDir() {
		return feedbackRow{unit: "Wrapper", health: 1, message: fmt.Sprintf("work dir %q is not a directory", cfg.WorkDir)}
	}
	return feedbackRow{unit: "Wrapper", health: 0, message: path}
}

func ensureFileOk(unit, path string) feedbackRow {
	if path == "" {
		return feedbackRow{unit: unit, health: 2, message: "not configured"}
	}
	if _, err := os.Stat(path); err != nil {
		return feedbackRow{unit: unit, health: 2, message: err.Error()}
	}
	return feedbackRow{unit: unit, health: 0, message: path}
}

func ensureNatsOk(cfg environment.Config) feedbackRow {
	if cfg.NatsURL == "" {
		return feedbackRow{unit: "NATS", health: 1, message: "not configured, runs execute locally"}
	}
	nc, err := nats.Connect(cfg.NatsURL, nats.Timeout(3*time.Second))
	if err != nil {
		return feedbackRow{unit: "NATS", health: 2, message: err.Error()}
	}
	defer nc.Close()
	return feedbackRow{unit: "NATS", health: 0, message: nc.ConnectedUrl()}
}

func ensureSqsOk(ctx context.Context, cfg environment.Config) feedbackRow {
	if cfg.SqsQueueURL == "" {
		return feedbackRow{unit: "SQS", health: 1, message: "not configured"}
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.SqsRegion))
	if err != nil {
		return feedbackRow{unit: "SQS", health: 2, message: err.Error()}
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return feedbackRow{unit: "SQS", health: 2, message: err.Error()}
	}
	return feedbackRow{unit: "SQS", health: 0, message: cfg.SqsQueueURL}
}

func outputFeedback(w io.Writer, feedback []feedbackRow) {
	t := pretty_table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(pretty_table.Row{"Unit", "Health", "Message"})
	for _, row := range feedback {
		healthCode := ""
		switch row.health {
		case 0:
			healthCode = "OKAY"
		case 1:
			healthCode = "WARN"
		case 2:
			healthCode = "ERROR"
		}
		t.AppendRow(pretty_table.Row{row.unit, healthCode, row.message})
	}
	t.SetStyle(pretty_table.StyleColoredDark)
	t.SetColumnConfigs([]pretty_table.ColumnConfig{
		{
			Name:        "Health",
			Transformer: healthColor,
			Align:       text.AlignCenter,
		},
	})
	t.Render()
}

var healthColor = text.Transformer(func(s interface{}) string {
	switch s.(string) {
	case "OKAY":
		return text.FgHiGreen.Sprint(s)
	case "WARN":
		return text.FgHiYellow.Sprint(s)
	case "ERROR":
		return text.FgHiRed.Sprint(s)
	}
	return ""
})

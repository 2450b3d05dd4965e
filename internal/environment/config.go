package environment

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config holds everything a tuner or worker process is started with.
type Config struct {
	Parallelism    int     `toml:"parallelism"`
	Retries        int     `toml:"retries"`
	Strict         bool    `toml:"strict"`
	OverrunFactor  float64 `toml:"overrun_factor"`
	CacheCompleted bool    `toml:"cache_completed"`

	Challengers       int     `toml:"challengers"`
	RunsPerChallenger int     `toml:"runs_per_challenger"`
	CutoffMax         float64 `toml:"cutoff_max"`
	Seed              int64   `toml:"seed"`
	Objective         string  `toml:"objective"`
	Penalty           float64 `toml:"penalty"`

	Executable    string `toml:"executable"`
	WorkDir       string `toml:"work_dir"`
	Deterministic bool   `toml:"deterministic"`
	InstanceFile  string `toml:"instance_file"`
	SpaceFile     string `toml:"space_file"`

	NatsURL     string `toml:"nats_url"`
	NatsSubject string `toml:"nats_subject"`
	NatsQueue   string `toml:"nats_queue"`

	SqsQueueURL string `toml:"sqs_queue_url"`
	SqsRegion   string `toml:"sqs_region"`

	LogLevel    string `toml:"log_level"`
	MetricsAddr string `toml:"metrics_addr"`
}

func Default() Config {
	return Config{
		Parallelism:       4,
		Retries:           2,
		OverrunFactor:     10,
		Challengers:       3,
		RunsPerChallenger: 2,
		CutoffMax:         32,
		Seed:              1,
		Objective:         "runtime",
		Penalty:           10,
		WorkDir:           ".",
		NatsSubject:       "tuner.runs",
		NatsQueue:         "workers",
		SqsRegion:         "eu-central-1",
		LogLevel:          "info",
	}
}

// Load starts from Default, applies the TOML file at path when path is not
// empty, loads .env if present and finally applies TUNER_* environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := toml.NewDecoder(bytes.NewReader(content))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("error loading .env file: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TUNER_OBJECTIVE":     &c.Objective,
		"TUNER_EXECUTABLE":    &c.Executable,
		"TUNER_WORK_DIR":      &c.WorkDir,
		"TUNER_INSTANCE_FILE": &c.InstanceFile,
		"TUNER_SPACE_FILE":    &c.SpaceFile,
		"TUNER_NATS_URL":      &c.NatsURL,
		"TUNER_NATS_SUBJECT":  &c.NatsSubject,
		"TUNER_NATS_QUEUE":    &c.NatsQueue,
		"TUNER_SQS_QUEUE_URL": &c.SqsQueueURL,
		"TUNER_SQS_REGION":    &c.SqsRegion,
		"TUNER_LOG_LEVEL":     &c.LogLevel,
		"TUNER_METRICS_ADDR":  &c.MetricsAddr,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TUNER_PARALLELISM":         &c.Parallelism,
		"TUNER_RETRIES":             &c.Retries,
		"TUNER_CHALLENGERS":         &c.Challengers,
		"TUNER_RUNS_PER_CHALLENGER": &c.RunsPerChallenger,
	}
	for name, dst := range ints {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"TUNER_OVERRUN_FACTOR": &c.OverrunFactor,
		"TUNER_CUTOFF_MAX":     &c.CutoffMax,
		"TUNER_PENALTY":        &c.Penalty,
	}
	for name, dst := range floats {
		if v, ok := lookup(name); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}

	bools := map[string]*bool{
		"TUNER_STRICT":          &c.Strict,
		"TUNER_CACHE_COMPLETED": &c.CacheCompleted,
		"TUNER_DETERMINISTIC":   &c.Deterministic,
	}
	for name, dst := range bools {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("TUNER_SEED"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("TUNER_SEED: %w", err)
		}
		c.Seed = n
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism must be positive, got %d", c.Parallelism))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Challengers < 1 || c.RunsPerChallenger < 1 {
		errs = append(errs, fmt.Errorf("challengers and runs per challenger must be positive"))
	}
	if c.CutoffMax <= 0 {
		errs = append(errs, fmt.Errorf("cutoff_max must be positive, got %g", c.CutoffMax))
	}
	return errors.Join(errs...)
}

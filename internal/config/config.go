// Package config loads tunables for the producer endpoint and consumer
// engine from a YAML file and SYNCHRO_*-prefixed environment variables,
// via github.com/spf13/viper. A library caller never has to touch this
// package — producer.Config and consumer.Config can always be built as
// Go literals — but the CLI and any operator who wants file-based tuning
// can use it instead of hand-assembling those structs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the subset of producer/consumer tunables that make sense to
// load from a file or the environment rather than construct in code.
type Config struct {
	// BasePath and NodeName together form the producer's key prefix.
	BasePath string
	NodeName string

	// Cadences are the pulse intervals the producer publishes bundles
	// at, e.g. "100ms", "1s", "10s".
	Cadences []time.Duration

	// Pulsar is the cadence tag the consumer polls, e.g. "1s".
	Pulsar string

	// RunloopInterval is the consumer's internal loop step.
	RunloopInterval time.Duration

	// BackoffSchedule is the consumer's retry schedule. Empty means
	// backoff.DefaultSchedule.
	BackoffSchedule []time.Duration

	// IncludeChecksums and AllowEmptyTransmissions are forwarded to
	// every Pulse the producer endpoint owns.
	IncludeChecksums        bool
	AllowEmptyTransmissions bool

	// ObservedProperties declares the scalar property names tracked on
	// every Item of the managed class.
	ObservedProperties []string
}

// Default returns the documented defaults: a 1s cadence, a 1s runloop
// interval, the standard backoff schedule, and no observed properties
// (callers append their own).
func Default() Config {
	return Config{
		Cadences:                []time.Duration{time.Second},
		Pulsar:                  "1s",
		RunloopInterval:         time.Second,
		IncludeChecksums:        true,
		AllowEmptyTransmissions: true,
	}
}

// Load reads path (if non-empty and present) as YAML, then applies
// SYNCHRO_*-prefixed environment variable overrides, onto Default().
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SYNCHRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("reading %s: %w", path, err)
			}
		} else if !os.IsNotExist(statErr) {
			return Config{}, fmt.Errorf("stat %s: %w", path, statErr)
		}
	}

	if s := v.GetString("base_path"); s != "" {
		cfg.BasePath = s
	}
	if s := v.GetString("node_name"); s != "" {
		cfg.NodeName = s
	}
	if s := v.GetString("pulsar"); s != "" {
		cfg.Pulsar = s
	}
	if d := v.GetDuration("runloop_interval"); d > 0 {
		cfg.RunloopInterval = d
	}
	if v.IsSet("include_checksums") {
		cfg.IncludeChecksums = v.GetBool("include_checksums")
	}
	if v.IsSet("allow_empty_transmissions") {
		cfg.AllowEmptyTransmissions = v.GetBool("allow_empty_transmissions")
	}
	if raw := v.GetStringSlice("cadences"); len(raw) > 0 {
		cadences, err := parseDurations(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Cadences = cadences
	}
	if raw := v.GetStringSlice("backoff_schedule"); len(raw) > 0 {
		schedule, err := parseDurations(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.BackoffSchedule = schedule
	}
	if raw := v.GetStringSlice("observed_properties"); len(raw) > 0 {
		cfg.ObservedProperties = raw
	}

	return cfg, nil
}

// fileConfig is the on-disk YAML shape: durations as strings ("100ms",
// "1s") so a written file round-trips through Load unchanged.
type fileConfig struct {
	BasePath                string   `yaml:"base_path,omitempty"`
	NodeName                string   `yaml:"node_name,omitempty"`
	Cadences                []string `yaml:"cadences,omitempty"`
	Pulsar                  string   `yaml:"pulsar,omitempty"`
	RunloopInterval         string   `yaml:"runloop_interval,omitempty"`
	BackoffSchedule         []string `yaml:"backoff_schedule,omitempty"`
	IncludeChecksums        bool     `yaml:"include_checksums"`
	AllowEmptyTransmissions bool     `yaml:"allow_empty_transmissions"`
	ObservedProperties      []string `yaml:"observed_properties,omitempty"`
}

// Write renders cfg as YAML at path. The written file, fed back through
// Load, reproduces cfg.
func Write(path string, cfg Config) error {
	fc := fileConfig{
		BasePath:                cfg.BasePath,
		NodeName:                cfg.NodeName,
		Cadences:                formatDurations(cfg.Cadences),
		Pulsar:                  cfg.Pulsar,
		IncludeChecksums:        cfg.IncludeChecksums,
		AllowEmptyTransmissions: cfg.AllowEmptyTransmissions,
		BackoffSchedule:         formatDurations(cfg.BackoffSchedule),
		ObservedProperties:      cfg.ObservedProperties,
	}
	if cfg.RunloopInterval > 0 {
		fc.RunloopInterval = cfg.RunloopInterval.String()
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func formatDurations(ds []time.Duration) []string {
	if len(ds) == 0 {
		return nil
	}
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}

func parseDurations(raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parsing duration %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}


package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/obstack/walpipe/internal/export"
	"github.com/obstack/walpipe/internal/pipeline"
)

// Config holds CLI configuration for walpipe.
type Config struct {
	WALDir string

	SinkKind         string
	ExhaustionPolicy string

	MaxFileSize      int64
	MaxFileAge       time.Duration
	WriteBufferSize  int
	DrainConcurrency int64
	FlushInterval    time.Duration
	PollInterval     time.Duration
	SweepInterval    time.Duration
	ChannelCapacity  int

	ExportMaxAttempts    int
	ExportInitialBackoff time.Duration
	HTTPTimeout          time.Duration
	ShutdownTimeout      time.Duration

	LogLevel string

	// Destinations come from the config file only; there is no flag or
	// environment form for a table of them.
	Destinations map[string]pipeline.DestinationConfig
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		SinkKind:             "http",
		ExhaustionPolicy:     string(export.PolicyAbandon),
		MaxFileSize:          64 << 20, // 64MB
		MaxFileAge:           5 * time.Minute,
		DrainConcurrency:     4,
		FlushInterval:        5 * time.Second,
		PollInterval:         250 * time.Millisecond,
		SweepInterval:        30 * time.Second,
		ChannelCapacity:      64,
		ExportMaxAttempts:    5,
		ExportInitialBackoff: 500 * time.Millisecond,
		HTTPTimeout:          30 * time.Second,
		ShutdownTimeout:      30 * time.Second,
		LogLevel:             "info",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.WALDir == "" {
		return fmt.Errorf("wal-dir is required")
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("no destinations configured (add a [destinations.<name>] table to the config file)")
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if _, err := export.ParseKind(c.SinkKind); err != nil {
		return err
	}
	if _, err := export.ParsePolicy(c.ExhaustionPolicy); err != nil {
		return err
	}
	return nil
}

// ToPipelineConfig converts the CLI configuration into the library form.
// Call Validate first; parse errors here are impossible afterwards.
func (c *Config) ToPipelineConfig() pipeline.Config {
	kind, _ := export.ParseKind(c.SinkKind)
	policy, _ := export.ParsePolicy(c.ExhaustionPolicy)
	return pipeline.Config{
		WALDir:               c.WALDir,
		MaxFileSize:          c.MaxFileSize,
		MaxFileAge:           c.MaxFileAge,
		WriteBufferSize:      c.WriteBufferSize,
		DrainConcurrency:     c.DrainConcurrency,
		FlushInterval:        c.FlushInterval,
		PollInterval:         c.PollInterval,
		SweepInterval:        c.SweepInterval,
		ChannelCapacity:      c.ChannelCapacity,
		ExportMaxAttempts:    c.ExportMaxAttempts,
		ExportInitialBackoff: c.ExportInitialBackoff,
		OnExhausted:          policy,
		SinkKind:             kind,
		HTTPTimeout:          c.HTTPTimeout,
		ShutdownTimeout:      c.ShutdownTimeout,
		Destinations:         c.Destinations,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt64 sets an int64 value if positive and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setInt64FromString parses a string to int64 and sets the destination if valid.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

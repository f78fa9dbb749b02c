package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/obstack/walpipe/internal/pipeline"
)

// FileDestination is one [destinations.<name>] table in the config file.
type FileDestination struct {
	Endpoint   string `toml:"endpoint"`
	Token      string `toml:"token"`
	OrgID      string `toml:"org_id"`
	StreamName string `toml:"stream_name"`
	StreamType string `toml:"stream_type"`
}

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	WALDir string `toml:"wal_dir"`

	SinkKind         string `toml:"sink"`
	ExhaustionPolicy string `toml:"on_exhausted"`

	MaxFileSize      int64  `toml:"max_file_size"`
	MaxFileAge       string `toml:"max_file_age"`
	WriteBufferSize  int    `toml:"write_buffer_size"`
	DrainConcurrency int64  `toml:"drain_concurrency"`
	FlushInterval    string `toml:"flush_interval"`
	PollInterval     string `toml:"poll_interval"`
	SweepInterval    string `toml:"sweep_interval"`
	ChannelCapacity  int    `toml:"channel_capacity"`

	ExportMaxAttempts    int    `toml:"export_max_attempts"`
	ExportInitialBackoff string `toml:"export_initial_backoff"`
	HTTPTimeout          string `toml:"http_timeout"`
	ShutdownTimeout      string `toml:"shutdown_timeout"`

	LogLevel string `toml:"log_level"`

	Destinations map[string]FileDestination `toml:"destinations"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.walpipe/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".walpipe", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("wal-dir", fc.WALDir, &cfg.WALDir)
	s.setString("sink", fc.SinkKind, &cfg.SinkKind)
	s.setString("on-exhausted", fc.ExhaustionPolicy, &cfg.ExhaustionPolicy)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	s.setInt64("max-file-size", fc.MaxFileSize, &cfg.MaxFileSize)
	s.setInt64("drain-concurrency", fc.DrainConcurrency, &cfg.DrainConcurrency)
	s.setInt("write-buffer-size", fc.WriteBufferSize, &cfg.WriteBufferSize)
	s.setInt("channel-capacity", fc.ChannelCapacity, &cfg.ChannelCapacity)
	s.setInt("export-max-attempts", fc.ExportMaxAttempts, &cfg.ExportMaxAttempts)

	if err := s.setDuration("max-file-age", fc.MaxFileAge, &cfg.MaxFileAge); err != nil {
		return err
	}
	if err := s.setDuration("flush-interval", fc.FlushInterval, &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("poll-interval", fc.PollInterval, &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", fc.SweepInterval, &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("export-initial-backoff", fc.ExportInitialBackoff, &cfg.ExportInitialBackoff); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}

	if len(fc.Destinations) > 0 {
		cfg.Destinations = DestinationsFromFile(fc.Destinations)
	}

	return nil
}

// DestinationsFromFile converts the TOML destination tables to their library form.
func DestinationsFromFile(fds map[string]FileDestination) map[string]pipeline.DestinationConfig {
	out := make(map[string]pipeline.DestinationConfig, len(fds))
	for name, d := range fds {
		out[name] = pipeline.DestinationConfig{
			Endpoint:   d.Endpoint,
			Token:      d.Token,
			OrgID:      d.OrgID,
			StreamName: d.StreamName,
			StreamType: d.StreamType,
		}
	}
	return out
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (WALPIPE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("wal-dir", os.Getenv("WALPIPE_WAL_DIR"), &cfg.WALDir)
	s.setString("sink", os.Getenv("WALPIPE_SINK"), &cfg.SinkKind)
	s.setString("on-exhausted", os.Getenv("WALPIPE_ON_EXHAUSTED"), &cfg.ExhaustionPolicy)
	s.setString("log-level", os.Getenv("WALPIPE_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setInt64FromString("max-file-size", os.Getenv("WALPIPE_MAX_FILE_SIZE"), &cfg.MaxFileSize); err != nil {
		return err
	}
	if err := s.setInt64FromString("drain-concurrency", os.Getenv("WALPIPE_DRAIN_CONCURRENCY"), &cfg.DrainConcurrency); err != nil {
		return err
	}
	if err := s.setIntFromString("channel-capacity", os.Getenv("WALPIPE_CHANNEL_CAPACITY"), &cfg.ChannelCapacity); err != nil {
		return err
	}
	if err := s.setIntFromString("export-max-attempts", os.Getenv("WALPIPE_EXPORT_MAX_ATTEMPTS"), &cfg.ExportMaxAttempts); err != nil {
		return err
	}

	if err := s.setDuration("max-file-age", os.Getenv("WALPIPE_MAX_FILE_AGE"), &cfg.MaxFileAge); err != nil {
		return err
	}
	if err := s.setDuration("flush-interval", os.Getenv("WALPIPE_FLUSH_INTERVAL"), &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("poll-interval", os.Getenv("WALPIPE_POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("sweep-interval", os.Getenv("WALPIPE_SWEEP_INTERVAL"), &cfg.SweepInterval); err != nil {
		return err
	}
	if err := s.setDuration("export-initial-backoff", os.Getenv("WALPIPE_EXPORT_INITIAL_BACKOFF"), &cfg.ExportInitialBackoff); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("WALPIPE_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("WALPIPE_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}

	return nil
}

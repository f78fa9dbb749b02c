package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv("WALPIPE_WAL_DIR", "/env/wal")
	t.Setenv("WALPIPE_FLUSH_INTERVAL", "7s")
	t.Setenv("WALPIPE_EXPORT_MAX_ATTEMPTS", "9")
	t.Setenv("WALPIPE_MAX_FILE_SIZE", "1048576")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.WALDir != "/env/wal" {
		t.Errorf("WALDir = %q", cfg.WALDir)
	}
	if cfg.FlushInterval != 7*time.Second {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval)
	}
	if cfg.ExportMaxAttempts != 9 {
		t.Errorf("ExportMaxAttempts = %d", cfg.ExportMaxAttempts)
	}
	if cfg.MaxFileSize != 1<<20 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
}

func TestApplyEnvConfigRespectsChangedFlags(t *testing.T) {
	t.Setenv("WALPIPE_WAL_DIR", "/env/wal")

	cfg := DefaultConfig()
	cfg.WALDir = "/flag/wal"
	if err := ApplyEnvConfig(&cfg, map[string]bool{"wal-dir": true}); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.WALDir != "/flag/wal" {
		t.Errorf("WALDir = %q, want flag value preserved", cfg.WALDir)
	}
}

func TestApplyEnvConfigInvalidValue(t *testing.T) {
	t.Setenv("WALPIPE_POLL_INTERVAL", "soon")

	cfg := DefaultConfig()
	if err := ApplyEnvConfig(&cfg, map[string]bool{}); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

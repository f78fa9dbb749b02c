package cliconfig

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/obstack/walpipe/internal/pipeline"
)

func TestConfigWatcherReloadsDestinations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	initial := `
[destinations.us-east]
endpoint = "https://a.example.com"
`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got map[string]pipeline.DestinationConfig
	cw := NewConfigWatcher(path, func(d map[string]pipeline.DestinationConfig) {
		mu.Lock()
		got = d
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cw.Run(ctx)

	// Give fsnotify a moment to establish the watch before the rewrite.
	time.Sleep(50 * time.Millisecond)

	updated := `
[destinations.us-east]
endpoint = "https://b.example.com"
token = "rotated"
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		d := got
		mu.Unlock()
		if d != nil && d["us-east"].Token == "rotated" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for reload")
}

func TestConfigWatcherIgnoresEmptyDestinations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`wal_dir = "/x"`), 0o644); err != nil {
		t.Fatal(err)
	}

	called := false
	cw := NewConfigWatcher(path, func(map[string]pipeline.DestinationConfig) {
		called = true
	}, nil)
	cw.reload()
	if called {
		t.Fatal("reload with no destinations must not be applied")
	}
}

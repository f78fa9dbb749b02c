package pipeline

import (
	"fmt"
	"time"

	"github.com/obstack/walpipe/internal/export"
)

// DestinationConfig describes one remote delivery target and the stream it
// carries.
type DestinationConfig struct {
	Endpoint   string
	Token      string
	OrgID      string
	StreamName string
	StreamType string
}

// Config holds every knob the pipeline consumes. Zero values are filled by
// SetDefaults; Validate catches the rest at startup.
type Config struct {
	// WALDir is the root directory for WAL files and the checkpoint file.
	WALDir string

	// MaxFileSize rotates the active WAL file when an append would push it
	// past this many bytes.
	MaxFileSize int64

	// MaxFileAge rotates the active WAL file once its last-modified age
	// exceeds this duration, bounding how long data can sit unexported.
	MaxFileAge time.Duration

	// WriteBufferSize is the write buffer for active WAL files.
	WriteBufferSize int

	// DrainConcurrency bounds simultaneously draining files.
	DrainConcurrency int64

	// FlushInterval is the checkpoint flush cadence.
	FlushInterval time.Duration

	// PollInterval is how long a drain worker waits for more data on a
	// still-active file.
	PollInterval time.Duration

	// SweepInterval is the cadence of the age-rotation sweep.
	SweepInterval time.Duration

	// ChannelCapacity is the bound of the entry channel between drain
	// workers and the exporter.
	ChannelCapacity int

	// ExportMaxAttempts is the delivery attempt budget per entry.
	ExportMaxAttempts int

	// ExportInitialBackoff is the first retry delay; it doubles per retry.
	ExportInitialBackoff time.Duration

	// OnExhausted decides a file's fate after its entry runs out of
	// delivery attempts.
	OnExhausted export.ExhaustionPolicy

	// SinkKind selects the delivery transport.
	SinkKind export.Kind

	// HTTPTimeout is the per-request timeout of the default HTTP sink.
	HTTPTimeout time.Duration

	// ShutdownTimeout bounds how long Stop waits for workers.
	ShutdownTimeout time.Duration

	// Destinations maps destination names to their delivery metadata.
	Destinations map[string]DestinationConfig
}

// SetDefaults fills unset fields with production defaults.
func (c *Config) SetDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 64 << 20 // 64 MiB
	}
	if c.MaxFileAge <= 0 {
		c.MaxFileAge = 5 * time.Minute
	}
	if c.DrainConcurrency <= 0 {
		c.DrainConcurrency = 4
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = 64
	}
	if c.ExportMaxAttempts <= 0 {
		c.ExportMaxAttempts = 5
	}
	if c.ExportInitialBackoff <= 0 {
		c.ExportInitialBackoff = 500 * time.Millisecond
	}
	if c.OnExhausted == "" {
		c.OnExhausted = export.PolicyAbandon
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	if c.WALDir == "" {
		return fmt.Errorf("wal dir is required")
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("at least one destination is required")
	}
	for name, d := range c.Destinations {
		if d.Endpoint == "" {
			return fmt.Errorf("destination %q: endpoint is required", name)
		}
	}
	switch c.OnExhausted {
	case export.PolicyAbandon, export.PolicyPark:
	default:
		return fmt.Errorf("unknown exhaustion policy %q", c.OnExhausted)
	}
	return nil
}

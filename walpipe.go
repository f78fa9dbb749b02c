// Package walpipe ships batches of records to remote destinations through a
// local write-ahead log. Writes are acknowledged once durable on disk;
// delivery happens asynchronously with retry and resumes from the last
// committed offset after a crash.
//
// Example usage:
//
//	cfg := walpipe.Config{
//	    WALDir: "/var/lib/walpipe",
//	    Destinations: map[string]walpipe.DestinationConfig{
//	        "us-east": {Endpoint: "https://ingest.example.com/v1", Token: "key"},
//	    },
//	}
//	p, err := walpipe.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := p.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Stop()
//	p.Write("us-east", "schema-1", "", []walpipe.Record{walpipe.Record(`{"k":"v"}`)})
package walpipe

import (
	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/export"
	"github.com/obstack/walpipe/internal/pipeline"
)

// Config holds the configuration for a pipeline.
// Zero values are filled with defaults by New.
type Config = pipeline.Config

// DestinationConfig describes one remote delivery target.
type DestinationConfig = pipeline.DestinationConfig

// Pipeline is the durable shipping runtime. Construct with New.
type Pipeline = pipeline.Pipeline

// Option configures optional pipeline collaborators.
type Option = pipeline.Option

// Record is a single opaque JSON document.
type Record = domain.Record

// State is the pipeline lifecycle state.
type State = pipeline.State

// Lifecycle states.
const (
	StateStopped  = pipeline.StateStopped
	StateStarting = pipeline.StateStarting
	StateRunning  = pipeline.StateRunning
	StateStopping = pipeline.StateStopping
	StateCrashed  = pipeline.StateCrashed
)

// Exhaustion policies for Config.OnExhausted.
const (
	PolicyAbandon = export.PolicyAbandon
	PolicyPark    = export.PolicyPark
)

// Lifecycle errors.
var (
	ErrNotRunning     = pipeline.ErrNotRunning
	ErrAlreadyRunning = pipeline.ErrAlreadyRunning
)

// New wires a pipeline from configuration. The pipeline does nothing until
// Start is called.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	return pipeline.New(cfg, opts...)
}

// WithLogger sets the logger used by the pipeline and everything it owns.
var WithLogger = pipeline.WithLogger

// WithSink replaces the configured sink with a caller-provided one.
var WithSink = pipeline.WithSink

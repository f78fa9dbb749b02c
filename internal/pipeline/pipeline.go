package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/export"
	"github.com/obstack/walpipe/internal/offsets"
	"github.com/obstack/walpipe/internal/wal"
	"github.com/obstack/walpipe/internal/watcher"
	"github.com/obstack/walpipe/pkg/log"
)

// Pipeline owns the full durable shipping path: per-destination WAL writers,
// the checkpoint store, the file watcher with its drain workers, and the
// retrying exporter. Construct with New, then Start, Write, Stop.
type Pipeline struct {
	cfg    Config
	id     string
	logger log.Logger
	lc     *lifecycle

	store    *offsets.Store
	registry *wal.Registry
	watcher  *watcher.Watcher
	exporter *export.Exporter
	entries  chan *domain.Entry

	destMu  sync.RWMutex
	dests   map[string]domain.Destination
	streams map[string]domain.Stream

	runMu      sync.Mutex
	cancel     context.CancelFunc
	stopExport chan struct{}
}

// New wires a pipeline from configuration. The pipeline does nothing until
// Start is called.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}

	var o options
	for _, fn := range opts {
		fn(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	sink := o.sink
	if sink == nil {
		client := o.httpClient
		if client == nil {
			client = &http.Client{Timeout: cfg.HTTPTimeout}
		}
		s, err := export.NewSink(cfg.SinkKind, export.SinkOptions{HTTPClient: client, Logger: logger})
		if err != nil {
			return nil, err
		}
		sink = s
	}

	p := &Pipeline{
		cfg:    cfg,
		id:     uuid.NewString(),
		logger: logger,
		lc:     newLifecycle(logger),
		store:  offsets.NewStore(cfg.WALDir, logger),
	}
	p.applyDestinations(cfg.Destinations)
	p.rebuildWatcher()

	// Indirect through p.watcher at call time: the watcher is rebuilt on
	// every Start so a stopped pipeline can run again.
	p.registry = wal.NewRegistry(cfg.WALDir, p.id, wal.Options{
		MaxFileSize:     cfg.MaxFileSize,
		MaxFileAge:      cfg.MaxFileAge,
		WriteBufferSize: cfg.WriteBufferSize,
	}, func(path string) { p.watcher.NotifyNewFile(path) }, logger)

	p.exporter = export.New(sink, p.store, export.Config{
		MaxAttempts:    cfg.ExportMaxAttempts,
		InitialBackoff: cfg.ExportInitialBackoff,
		OnExhausted:    cfg.OnExhausted,
	}, func(path string, abandon bool) {
		if abandon {
			// Rotate the file out first if it is still the active write
			// target; appends to a sidelined file would be lost.
			p.registry.CloseActive(path)
			p.watcher.AbandonFile(path)
			return
		}
		p.watcher.StopWatchFile(path)
	}, logger)

	return p, nil
}

// rebuildWatcher makes a fresh watcher and entry channel. Only called while
// no workers are running: at construction and at the top of Start.
func (p *Pipeline) rebuildWatcher() {
	p.entries = make(chan *domain.Entry, p.cfg.ChannelCapacity)
	p.watcher = watcher.New(watcher.Config{
		DrainConcurrency: p.cfg.DrainConcurrency,
		FlushInterval:    p.cfg.FlushInterval,
		PollInterval:     p.cfg.PollInterval,
	}, p.store, p.entries, p.isActive, p.resolveDestination, p.logger)
}

// ID returns the process-unique pipeline identifier stamped into WAL headers.
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	return p.lc.current()
}

// Start loads checkpoints, replays surviving WAL files, and launches the
// watcher, exporter, and age-sweep workers.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.lc.transitionTo(StateStarting, "start requested"); err != nil {
		return err
	}
	p.rebuildWatcher()

	if err := os.MkdirAll(p.cfg.WALDir, 0o755); err != nil {
		p.lc.transitionTo(StateCrashed, "wal dir unavailable")
		return fmt.Errorf("create wal dir: %w", err)
	}

	recovered, err := p.store.Load()
	if err != nil {
		p.lc.transitionTo(StateCrashed, "checkpoint load failed")
		return fmt.Errorf("load checkpoints: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	stopExport := make(chan struct{})
	p.runMu.Lock()
	p.cancel = cancel
	p.stopExport = stopExport
	p.runMu.Unlock()

	p.lc.addWorker()
	go func() {
		defer p.lc.workerDone()
		p.watcher.Run(runCtx)
	}()

	p.lc.addWorker()
	go func() {
		defer p.lc.workerDone()
		p.exporter.Run(runCtx, p.entries, stopExport)
	}()

	p.lc.addWorker()
	go p.sweepLoop(runCtx)

	p.replay(recovered)

	if err := p.lc.transitionTo(StateRunning, "startup complete"); err != nil {
		return err
	}
	p.logger.Info("pipeline started",
		log.String("pipeline_id", p.id),
		log.String("wal_dir", p.cfg.WALDir),
		log.Int("destinations", len(p.cfg.Destinations)))
	return nil
}

// replay registers every WAL segment that survived the previous run: files
// with a checkpoint resume from it, files without one drain from the
// beginning. Checkpoints whose file vanished are dropped.
func (p *Pipeline) replay(recovered map[string]int64) {
	seen := make(map[string]bool, len(recovered))

	dirs, err := os.ReadDir(p.cfg.WALDir)
	if err != nil {
		p.logger.Error("scan wal root failed", log.String("dir", p.cfg.WALDir), log.Err(err))
		return
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		segs, err := wal.ListSegments(filepath.Join(p.cfg.WALDir, d.Name()))
		if err != nil {
			p.logger.Warn("scan wal subdir failed", log.String("dest", d.Name()), log.Err(err))
			continue
		}
		for _, path := range segs {
			seen[path] = true
			if pos, ok := recovered[path]; ok {
				p.watcher.LoadFromPersistFile(path, pos)
			} else {
				p.watcher.NotifyNewFile(path)
			}
		}
	}

	for path := range recovered {
		if !seen[path] {
			p.logger.Warn("checkpointed wal file missing on disk", log.String("file", path))
			p.store.Remove(path)
		}
	}
}

func (p *Pipeline) sweepLoop(ctx context.Context) {
	defer p.lc.workerDone()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.registry.SweepOnce()
		}
	}
}

// Write durably appends a batch of records to the WAL of the named
// destination. The batch is on disk when Write returns; delivery happens
// asynchronously.
func (p *Pipeline) Write(dest, schemaKey, partitionKey string, records []domain.Record) error {
	if p.lc.current() != StateRunning {
		return ErrNotRunning
	}
	stream, ok := p.streamFor(dest)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownDestination, dest)
	}
	w, err := p.registry.Writer(dest, stream)
	if err != nil {
		return err
	}
	return w.Write(schemaKey, partitionKey, records)
}

// Stop closes the WAL writers, cancels the workers, and flushes a final
// checkpoint. Data not yet exported stays in the WAL for the next run.
func (p *Pipeline) Stop() error {
	if err := p.lc.transitionTo(StateStopping, "stop requested"); err != nil {
		return err
	}

	// Close writers first so buffered appends reach disk and pending drains
	// see the files as rotated out.
	p.registry.CloseAll()

	// The exporter finishes its current item and stops consuming; the
	// cancellation then stops the watcher and drain workers.
	p.runMu.Lock()
	if p.stopExport != nil {
		close(p.stopExport)
		p.stopExport = nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.runMu.Unlock()

	if err := p.lc.waitWithTimeout(p.cfg.ShutdownTimeout); err != nil {
		p.lc.transitionTo(StateCrashed, "shutdown timed out")
		return err
	}
	if err := p.store.Flush(); err != nil {
		p.logger.Error("final checkpoint flush failed", log.Err(err))
	}
	return p.lc.transitionTo(StateStopped, "shutdown complete")
}

// UpdateDestinations swaps the destination table. Endpoints and tokens take
// effect on the next delivery attempt; streams of already-open WAL files are
// unchanged.
func (p *Pipeline) UpdateDestinations(dests map[string]DestinationConfig) {
	p.applyDestinations(dests)
	p.logger.Info("destinations updated", log.Int("count", len(dests)))
}

func (p *Pipeline) applyDestinations(dests map[string]DestinationConfig) {
	p.destMu.Lock()
	defer p.destMu.Unlock()
	p.dests = make(map[string]domain.Destination, len(dests))
	p.streams = make(map[string]domain.Stream, len(dests))
	for name, d := range dests {
		p.dests[name] = domain.Destination{Name: name, Endpoint: d.Endpoint, Token: d.Token}
		p.streams[name] = domain.Stream{OrgID: d.OrgID, Name: d.StreamName, Type: d.StreamType}
	}
}

func (p *Pipeline) resolveDestination(name string) (domain.Destination, bool) {
	p.destMu.RLock()
	defer p.destMu.RUnlock()
	d, ok := p.dests[name]
	return d, ok
}

func (p *Pipeline) streamFor(name string) (domain.Stream, bool) {
	p.destMu.RLock()
	defer p.destMu.RUnlock()
	s, ok := p.streams[name]
	return s, ok
}

func (p *Pipeline) isActive(path string) bool {
	return p.registry.IsActive(path)
}

package watcher

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/offsets"
	"github.com/obstack/walpipe/internal/reader"
	"github.com/obstack/walpipe/internal/wal"
	"github.com/obstack/walpipe/internal/walfile"
	"github.com/obstack/walpipe/pkg/log"
)

// Config holds the watcher's scheduling knobs.
type Config struct {
	// DrainConcurrency bounds how many files drain simultaneously.
	DrainConcurrency int64

	// FlushInterval is how often checkpoints are flushed to disk and
	// pending deletions are retried.
	FlushInterval time.Duration

	// PollInterval is how long a drain worker waits for more data on a
	// file that is still the active write target.
	PollInterval time.Duration

	// DeleteRetries bounds deletion attempts for a drained file before the
	// leak is logged and given up on.
	DeleteRetries int
}

func (c *Config) setDefaults() {
	if c.DrainConcurrency <= 0 {
		c.DrainConcurrency = 4
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.DeleteRetries <= 0 {
		c.DeleteRetries = 3
	}
}

type fileState int

const (
	stateWatching fileState = iota
	stateDraining
)

// watched is one registered file: its reader, its stop handle, and where it
// is in the Watching -> Draining -> Removed progression.
type watched struct {
	r        *reader.Reader
	stop     chan struct{}
	stopOnce sync.Once
	state    fileState
}

func (wf *watched) signalStop() {
	wf.stopOnce.Do(func() { close(wf.stop) })
}

// Resolver maps a destination name from a WAL file header to its delivery
// metadata.
type Resolver func(name string) (domain.Destination, bool)

// Watcher owns the registry of active WAL files and drains them under a
// concurrency limit, forwarding decoded entries to the exporter channel.
// The registry is touched only by the Run loop; everything else talks to it
// through events.
type Watcher struct {
	cfg      Config
	store    *offsets.Store
	entries  chan<- *domain.Entry
	isActive func(path string) bool
	resolve  Resolver
	logger   log.Logger

	events chan event
	notify chan struct{}
	done   chan struct{}

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	registry      map[string]*watched
	pendingDelete map[string]int
}

// New creates a watcher. isActive reports whether a path is still some
// writer's active file; such files are drained to their tail but never
// considered finished.
func New(cfg Config, store *offsets.Store, entries chan<- *domain.Entry, isActive func(string) bool, resolve Resolver, logger log.Logger) *Watcher {
	cfg.setDefaults()
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if isActive == nil {
		isActive = func(string) bool { return false }
	}
	return &Watcher{
		cfg:           cfg,
		store:         store,
		entries:       entries,
		isActive:      isActive,
		resolve:       resolve,
		logger:        logger,
		events:        make(chan event, 64),
		notify:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		sem:           semaphore.NewWeighted(cfg.DrainConcurrency),
		registry:      make(map[string]*watched),
		pendingDelete: make(map[string]int),
	}
}

// NotifyNewFile registers a freshly created WAL file for draining from the
// beginning.
func (w *Watcher) NotifyNewFile(path string) {
	w.post(event{kind: eventNewFile, path: path})
}

// LoadFromPersistFile registers a file recovered from the checkpoint map,
// resuming at the persisted position. Startup replay only.
func (w *Watcher) LoadFromPersistFile(path string, pos int64) {
	w.post(event{kind: eventLoadFromPersist, path: path, pos: pos})
}

// StopWatchFile signals the file's worker to stop and deregisters it.
// The file is not deleted.
func (w *Watcher) StopWatchFile(path string) {
	w.post(event{kind: eventStopWatch, path: path})
}

// AbandonFile gives up on a file whose delivery retries ran out: its worker
// stops, its checkpoint is dropped, and the file is sidelined on disk so a
// restart does not drain it from the beginning again.
func (w *Watcher) AbandonFile(path string) {
	w.post(event{kind: eventAbandon, path: path})
}

func (w *Watcher) post(ev event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// Run processes events and schedules drain workers until ctx is cancelled,
// then flushes checkpoints and exits. Call from exactly one goroutine.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		case ev := <-w.events:
			w.handle(ctx, ev)
		case <-w.notify:
			w.schedule(ctx)
		case <-ticker.C:
			w.flushOffsets()
			w.retryDeletes()
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case eventNewFile:
		w.register(ev.path, reader.FromBeginning())
	case eventLoadFromPersist:
		w.register(ev.path, reader.FromCheckpoint(ev.pos))
	case eventStopWatch:
		wf, ok := w.registry[ev.path]
		if !ok {
			return
		}
		wf.signalStop()
		w.deregister(ev.path)
	case eventAbandon:
		if wf, ok := w.registry[ev.path]; ok {
			wf.signalStop()
			w.deregister(ev.path)
		}
		w.sideline(ev.path)
	case eventDrainDone:
		wf, ok := w.registry[ev.path]
		if !ok {
			return
		}
		wf.signalStop()
		w.deregister(ev.path)
		if ev.remove {
			w.pendingDelete[ev.path] = 0
			w.tryDelete(ev.path)
		}
	}
	w.schedule(ctx)
}

// register opens a reader for path and adds it to the registry. At most one
// reader exists per path; duplicates are ignored.
func (w *Watcher) register(path string, start reader.Start) {
	if _, ok := w.registry[path]; ok {
		return
	}

	dest, err := w.destinationFor(path)
	if err != nil {
		w.logger.Error("cannot watch wal file", log.String("file", path), log.Err(err))
		return
	}

	r, err := reader.Open(path, start, dest, w.logger)
	if err != nil {
		w.logger.Error("open wal file for draining failed", log.String("file", path), log.Err(err))
		return
	}

	w.registry[path] = &watched{r: r, stop: make(chan struct{})}
	w.logger.Debug("watching wal file", log.String("file", path), log.Int64("position", r.Position()))
	w.wake()
}

// destinationFor peeks at the file header and resolves its destination
// metadata from configuration.
func (w *Watcher) destinationFor(path string) (domain.Destination, error) {
	f, err := walfile.Open(path, 0)
	if err != nil {
		return domain.Destination{}, err
	}
	name := f.Header()[walfile.HeaderDestination]
	f.Close()

	dest, ok := w.resolve(name)
	if !ok {
		return domain.Destination{}, domain.ErrUnknownDestination
	}
	return dest, nil
}

// deregister removes a file from the registry. A draining file's reader is
// closed by its worker on exit; only never-scheduled readers are closed here.
func (w *Watcher) deregister(path string) {
	wf, ok := w.registry[path]
	if !ok {
		return
	}
	if wf.state == stateWatching {
		if err := wf.r.Close(); err != nil {
			w.logger.Warn("close wal reader failed", log.String("file", path), log.Err(err))
		}
	}
	delete(w.registry, path)
	w.logger.Debug("stopped watching wal file", log.String("file", path))
}

// schedule assigns drain workers to registered files while permits last.
func (w *Watcher) schedule(ctx context.Context) {
	for path, wf := range w.registry {
		if wf.state != stateWatching {
			continue
		}
		if !w.sem.TryAcquire(1) {
			return
		}
		wf.state = stateDraining
		w.wg.Add(1)
		go w.drain(ctx, path, wf)
	}
}

// wake nudges the scheduler. The channel has capacity one; a pending nudge
// is enough.
func (w *Watcher) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// drain reads entries one at a time and forwards each on the bounded entry
// channel; a full channel blocks here, throttling the reader. On end of a
// rotated-out file the worker reports completion so the file can be removed.
func (w *Watcher) drain(ctx context.Context, path string, wf *watched) {
	defer w.wg.Done()
	defer w.sem.Release(1)
	defer w.wake()
	defer wf.r.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wf.stop:
			return
		default:
		}

		e, err := wf.r.Next()
		if err != nil {
			// Corrupt entry: end of readable data for this file only.
			w.logger.Error("wal entry unreadable, stopping file",
				log.String("file", path), log.Err(err))
			w.report(ctx, event{kind: eventDrainDone, path: path})
			return
		}
		if e == nil {
			if w.isActive(path) {
				// Still being written; wait for more data.
				if !w.sleep(ctx, wf) {
					return
				}
				continue
			}
			w.report(ctx, event{kind: eventDrainDone, path: path, remove: true})
			return
		}

		select {
		case w.entries <- e:
		case <-wf.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) sleep(ctx context.Context, wf *watched) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wf.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (w *Watcher) report(ctx context.Context, ev event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

// sideline renames an abandoned file out of the segment namespace and drops
// its checkpoint. The restart scan only picks up segment-named files, so the
// unexported tail stays on disk for operators without ever being redelivered.
func (w *Watcher) sideline(path string) {
	w.store.Remove(path)
	dst := path + wal.AbandonedSuffix
	if err := os.Rename(path, dst); err != nil {
		w.logger.Error("sideline abandoned wal file failed",
			log.String("file", path), log.Err(err))
		return
	}
	w.logger.Warn("wal file abandoned", log.String("file", path), log.String("renamed_to", dst))
}

// tryDelete removes a fully drained file. Deletion failures are retried a
// bounded number of times on the flush tick; after that the file is leaked
// deliberately rather than stalling the loop.
func (w *Watcher) tryDelete(path string) {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		delete(w.pendingDelete, path)
		w.store.Remove(path)
		w.logger.Info("drained wal file removed", log.String("file", path))
		return
	}

	w.pendingDelete[path]++
	if w.pendingDelete[path] >= w.cfg.DeleteRetries {
		delete(w.pendingDelete, path)
		w.logger.Error("giving up deleting drained wal file",
			log.String("file", path),
			log.Int("attempts", w.cfg.DeleteRetries),
			log.Err(err))
		return
	}
	w.logger.Warn("delete drained wal file failed, will retry",
		log.String("file", path), log.Err(err))
}

func (w *Watcher) retryDeletes() {
	for path := range w.pendingDelete {
		w.tryDelete(path)
	}
}

func (w *Watcher) flushOffsets() {
	if err := w.store.Flush(); err != nil {
		w.logger.Error("checkpoint flush failed", log.Err(err))
	}
}

func (w *Watcher) shutdown() {
	for _, wf := range w.registry {
		wf.signalStop()
	}
	w.wg.Wait()
	for path, wf := range w.registry {
		if wf.state == stateWatching {
			wf.r.Close()
		}
		delete(w.registry, path)
	}
	if err := w.store.Flush(); err != nil {
		w.logger.Error("final checkpoint flush failed", log.Err(err))
	}
}

package export

import (
	"context"
	"fmt"
	"time"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/offsets"
	"github.com/obstack/walpipe/pkg/log"
)

// ExhaustionPolicy decides what happens to a file whose entry ran out of
// delivery attempts.
type ExhaustionPolicy string

const (
	// PolicyAbandon stops watching the file and drops its checkpoint. The
	// unexported tail is lost to this process; the file stays on disk.
	PolicyAbandon ExhaustionPolicy = "abandon"

	// PolicyPark stops watching the file but keeps its checkpoint, so a
	// restart resumes the tail from the last committed offset.
	PolicyPark ExhaustionPolicy = "park"
)

// ParsePolicy maps a configuration string to an ExhaustionPolicy.
func ParsePolicy(s string) (ExhaustionPolicy, error) {
	switch ExhaustionPolicy(s) {
	case PolicyAbandon, "":
		return PolicyAbandon, nil
	case PolicyPark:
		return PolicyPark, nil
	default:
		return "", fmt.Errorf("unknown exhaustion policy %q", s)
	}
}

// Config holds the exporter's retry knobs.
type Config struct {
	// MaxAttempts is the delivery attempt budget per entry.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry.
	InitialBackoff time.Duration

	// OnExhausted picks the file's fate after the budget runs out.
	OnExhausted ExhaustionPolicy
}

// Exporter delivers entries to a sink with bounded retry, committing offsets
// on success and telling the watcher to stop a file on exhaustion.
type Exporter struct {
	sink      Sink
	offsets   *offsets.Store
	cfg       Config
	stopWatch func(path string, abandon bool)
	logger    log.Logger
}

// New creates an exporter. stopWatch is invoked when a file's entry exhausted
// its attempts; abandon is true under PolicyAbandon, telling the watcher to
// sideline the file rather than merely stop watching it.
func New(sink Sink, store *offsets.Store, cfg Config, stopWatch func(path string, abandon bool), logger log.Logger) *Exporter {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if stopWatch == nil {
		stopWatch = func(string, bool) {}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Exporter{
		sink:      sink,
		offsets:   store,
		cfg:       cfg,
		stopWatch: stopWatch,
		logger:    logger,
	}
}

// ExportEntry attempts delivery up to MaxAttempts times with doubling
// backoff. On success the entry's post-read position is committed to the
// offset store. On exhaustion the failure is terminal for the file: the
// watcher is told to stop it and domain.ErrRetriesExhausted is returned.
func (x *Exporter) ExportEntry(ctx context.Context, e *domain.Entry) error {
	b := newBackoff(x.cfg.InitialBackoff)

	var lastErr error
	for attempt := 1; attempt <= x.cfg.MaxAttempts; attempt++ {
		err := x.sink.Export(ctx, e)
		if err == nil {
			x.offsets.Save(e.File, e.EndPos)
			x.logger.Debug("entry exported",
				log.String("file", e.File),
				log.Int64("position", e.EndPos),
				log.Int("records", len(e.Records)))
			return nil
		}
		lastErr = err
		x.logger.Warn("export attempt failed",
			log.String("file", e.File),
			log.Int("attempt", attempt),
			log.Int("max_attempts", x.cfg.MaxAttempts),
			log.Err(err))

		if attempt == x.cfg.MaxAttempts {
			break
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}

	x.logger.Error("export retries exhausted, stopping file",
		log.String("file", e.File),
		log.String("policy", string(x.cfg.OnExhausted)),
		log.Err(lastErr))

	abandon := x.cfg.OnExhausted == PolicyAbandon
	if abandon {
		x.offsets.Remove(e.File)
	}
	x.stopWatch(e.File, abandon)

	return fmt.Errorf("%w: %s: %v", domain.ErrRetriesExhausted, e.File, lastErr)
}

// Run consumes entries from the shared channel fed by all drain workers
// until the stop channel or context fires. The current item is finished
// before stopping. Exhaustion errors are already handled per entry and do
// not stop the loop.
func (x *Exporter) Run(ctx context.Context, entries <-chan *domain.Entry, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if err := x.ExportEntry(ctx, e); err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

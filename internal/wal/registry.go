package wal

import (
	"path/filepath"
	"sync"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/pkg/log"
)

// Registry hands out one Writer per destination key and retains it for the
// process lifetime. Each destination gets its own subdirectory under the
// WAL root.
type Registry struct {
	mu      sync.Mutex
	writers map[string]*Writer

	root       string
	pipelineID string
	opts       Options
	notify     func(path string)
	logger     log.Logger
}

// NewRegistry creates a registry rooted at root. notify is invoked with the
// path of every newly created WAL file.
func NewRegistry(root, pipelineID string, opts Options, notify func(string), logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Registry{
		writers:    make(map[string]*Writer),
		root:       root,
		pipelineID: pipelineID,
		opts:       opts,
		notify:     notify,
		logger:     logger,
	}
}

// Writer returns the writer for a destination, creating it on first use.
func (r *Registry) Writer(dest string, stream domain.Stream) (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.writers[dest]; ok {
		return w, nil
	}
	w, err := newWriter(filepath.Join(r.root, dest), dest, stream, r.pipelineID, r.opts, r.notify, r.logger)
	if err != nil {
		return nil, err
	}
	r.writers[dest] = w
	return w, nil
}

// IsActive reports whether path is some destination's current write target.
// Active files are drained only up to their written tail and never deleted.
func (r *Registry) IsActive(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.writers {
		if w.ActivePath() == path {
			return true
		}
	}
	return false
}

// CloseActive rotates path out if it is some destination's current write
// target, so subsequent appends go to a fresh segment. Used before a file is
// abandoned; appends to a sidelined file would be silently lost.
func (r *Registry) CloseActive(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dest, w := range r.writers {
		if w.ActivePath() == path {
			if err := w.Close(); err != nil {
				r.logger.Error("close wal writer failed", log.String("dest", dest), log.Err(err))
			}
			return
		}
	}
}

// SweepOnce force-rotates writers whose files have exceeded the age
// threshold without new writes.
func (r *Registry) SweepOnce() {
	r.mu.Lock()
	writers := make([]*Writer, 0, len(r.writers))
	for _, w := range r.writers {
		writers = append(writers, w)
	}
	r.mu.Unlock()

	for _, w := range writers {
		if err := w.RotateIfStale(); err != nil {
			r.logger.Error("wal age sweep failed", log.String("dest", w.dest), log.Err(err))
		}
	}
}

// CloseAll syncs and closes every active file. Closed files are no longer
// active write targets, so pending drains can run to completion.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dest, w := range r.writers {
		if err := w.Close(); err != nil {
			r.logger.Error("close wal writer failed", log.String("dest", dest), log.Err(err))
		}
	}
}

// Root returns the WAL root directory.
func (r *Registry) Root() string {
	return r.root
}

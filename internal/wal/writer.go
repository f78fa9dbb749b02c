package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/walfile"
	"github.com/obstack/walpipe/pkg/log"
)

const segmentSuffix = ".wal"

// AbandonedSuffix is appended to a segment's name when delivery retries for
// it ran out under the abandon policy. Sidelined files are excluded from
// segment listings, so a restart does not resurrect them.
const AbandonedSuffix = ".abandoned"

// Options configures writers created by a Registry.
type Options struct {
	// MaxFileSize triggers rotation when an append would push the file past
	// this many bytes.
	MaxFileSize int64

	// MaxFileAge triggers rotation when the file's last-modified age exceeds
	// this duration, even with no new writes (via the periodic sweep).
	MaxFileAge time.Duration

	// WriteBufferSize is the bufio buffer for the active file. <= 0 uses
	// the default.
	WriteBufferSize int
}

// Writer owns one rotating append-only WAL file for a single destination.
// The active file handle is guarded by a read/write lock shared by all
// callers targeting the destination.
type Writer struct {
	mu sync.RWMutex

	dir        string
	dest       string
	stream     domain.Stream
	pipelineID string
	opts       Options

	seq  uint64
	file *walfile.File

	notify func(path string)
	logger log.Logger
}

func newWriter(dir, dest string, stream domain.Stream, pipelineID string, opts Options, notify func(string), logger log.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal dir %s: %w", dir, err)
	}
	seq, err := maxSegmentSeq(dir)
	if err != nil {
		return nil, err
	}
	return &Writer{
		dir:        dir,
		dest:       dest,
		stream:     stream,
		pipelineID: pipelineID,
		opts:       opts,
		seq:        seq,
		notify:     notify,
		logger:     logger,
	}, nil
}

// Write appends one length-prefixed entry holding the batch and syncs it to
// disk. Returns domain.ErrEmptyBatch for an empty batch. Rotation happens
// before the append when size or age thresholds are exceeded.
func (w *Writer) Write(schemaKey, partitionKey string, records []domain.Record) error {
	if len(records) == 0 {
		return domain.ErrEmptyBatch
	}

	payload, err := domain.EncodePayload(w.stream, schemaKey, partitionKey, records)
	if err != nil {
		return err
	}

	var created []string
	defer func() {
		for _, p := range created {
			w.notify(p)
		}
	}()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		path, err := w.openLocked()
		if err != nil {
			return err
		}
		created = append(created, path)
	} else if rotate, why := w.needsRotationLocked(walfile.EntrySize(len(payload))); rotate {
		w.logger.Debug("rotating wal file",
			log.String("dest", w.dest),
			log.String("file", w.file.Path()),
			log.String("reason", why))
		if err := w.closeFileLocked(); err != nil {
			return err
		}
		path, err := w.openLocked()
		if err != nil {
			return err
		}
		created = append(created, path)
	}

	if _, err := w.file.Write(payload); err != nil {
		return fmt.Errorf("append to %s: %w", w.file.Path(), err)
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return nil
}

// needsRotationLocked reports whether appending entrySize more bytes should
// rotate first. A file with no entries never rotates, so a single oversized
// entry still gets written somewhere.
func (w *Writer) needsRotationLocked(entrySize int64) (bool, string) {
	if w.file.CurrentPosition() <= w.file.HeaderLen() {
		return false, ""
	}
	if w.file.CurrentPosition()+entrySize > w.opts.MaxFileSize {
		return true, "size"
	}
	if w.opts.MaxFileAge > 0 {
		if info, err := w.file.Metadata(); err == nil {
			if time.Since(info.ModTime()) > w.opts.MaxFileAge {
				return true, "age"
			}
		}
	}
	return false, ""
}

// RotateIfStale closes the active file when its last-modified age exceeds
// MaxFileAge, bounding how long partial data can sit unexported. The next
// write opens a fresh file.
func (w *Writer) RotateIfStale() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.file.CurrentPosition() <= w.file.HeaderLen() {
		return nil
	}
	info, err := w.file.Metadata()
	if err != nil {
		return err
	}
	if time.Since(info.ModTime()) <= w.opts.MaxFileAge {
		return nil
	}

	w.logger.Info("rotating stale wal file",
		log.String("dest", w.dest),
		log.String("file", w.file.Path()))
	return w.closeFileLocked()
}

// ActivePath returns the path of the file currently being written, or ""
// when no file is open.
func (w *Writer) ActivePath() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.file == nil {
		return ""
	}
	return w.file.Path()
}

// Close syncs and closes the active file. The file stays on disk for the
// watcher to finish draining.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.closeFileLocked()
}

func (w *Writer) openLocked() (string, error) {
	w.seq++
	path := filepath.Join(w.dir, fmt.Sprintf("%08d%s", w.seq, segmentSuffix))
	header := map[string]string{
		walfile.HeaderPipelineID:  w.pipelineID,
		walfile.HeaderOrgID:       w.stream.OrgID,
		walfile.HeaderStreamName:  w.stream.Name,
		walfile.HeaderStreamType:  w.stream.Type,
		walfile.HeaderDestination: w.dest,
	}
	f, err := walfile.Create(path, header, w.opts.WriteBufferSize)
	if err != nil {
		w.seq--
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		w.seq--
		return "", err
	}
	w.file = f
	return path, nil
}

func (w *Writer) closeFileLocked() error {
	path := w.file.Path()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close wal file %s: %w", path, err)
	}
	w.file = nil
	return nil
}

// maxSegmentSeq returns the highest existing segment number in dir, so a
// restarted writer keeps its sequence monotonic.
func maxSegmentSeq(dir string) (uint64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read wal dir %s: %w", dir, err)
	}
	var max uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		// Abandoned segments still occupy their sequence number; reusing it
		// would make a later abandon rename collide.
		seq, ok := parseSegmentName(strings.TrimSuffix(e.Name(), AbandonedSuffix))
		if ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	numStr := strings.TrimSuffix(name, segmentSuffix)
	if len(numStr) != 8 {
		return 0, false
	}
	n, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListSegments returns the segment paths in dir in sequence order.
func ListSegments(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read wal dir %s: %w", dir, err)
	}
	type seg struct {
		seq  uint64
		path string
	}
	var segs []seg
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseSegmentName(e.Name()); ok {
			segs = append(segs, seg{seq, filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.path
	}
	return out, nil
}

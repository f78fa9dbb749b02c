package offsets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/obstack/walpipe/pkg/log"
)

const (
	offsetsFileName = "offsets.json"
	tmpSuffix       = ".tmp"
)

// Store is the crash-safe checkpoint map: WAL file path -> last successfully
// exported byte position. Saves are in-memory; Flush persists the whole map
// atomically so a restart resumes every in-flight file at exactly the last
// exported byte.
type Store struct {
	mu     sync.RWMutex
	m      map[string]int64
	path   string
	logger log.Logger
}

// NewStore creates a store persisting under dir.
func NewStore(dir string, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Store{
		m:      make(map[string]int64),
		path:   filepath.Join(dir, offsetsFileName),
		logger: logger,
	}
}

// Save records a position for a file. Positions are monotonically
// non-decreasing: a position at or below the recorded one is a no-op.
func (s *Store) Save(file string, pos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[file]; ok && pos <= cur {
		return
	}
	s.m[file] = pos
}

// Get returns the recorded position for a file.
func (s *Store) Get(file string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.m[file]
	return pos, ok
}

// Remove drops a file's entry once it has been fully drained and deleted.
func (s *Store) Remove(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, file)
}

// Snapshot returns a copy of the checkpoint map.
func (s *Store) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// Flush serializes the full map to a temp file, fsyncs it, then atomically
// renames it over the stable file. An observer always sees either the old
// or the fully-new stable file.
func (s *Store) Flush() error {
	snap := s.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal offsets: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("offsets dir: %w", err)
	}

	tmp := s.path + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open offsets temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write offsets temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync offsets temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close offsets temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("promote offsets file: %w", err)
	}
	return nil
}

// Load populates the store from disk and returns the recovered map.
//
// A leftover temp file is evidence of a crash after a fully-written flush
// but before the rename; it is newer than the stable file, so it wins and
// is promoted. With no file at all the store starts empty.
func (s *Store) Load() (map[string]int64, error) {
	tmp := s.path + tmpSuffix
	if _, err := os.Stat(tmp); err == nil {
		if m, err := readOffsets(tmp); err == nil {
			if err := os.Rename(tmp, s.path); err != nil {
				return nil, fmt.Errorf("promote recovered offsets: %w", err)
			}
			s.replace(m)
			s.logger.Info("recovered offsets from interrupted flush", log.Int("files", len(m)))
			return s.Snapshot(), nil
		}
		// Unreadable temp file: discard it and fall back to the stable file.
		s.logger.Warn("discarding unreadable offsets temp file", log.String("path", tmp))
		_ = os.Remove(tmp)
	}

	m, err := readOffsets(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	s.replace(m)
	return s.Snapshot(), nil
}

func (s *Store) replace(m map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
}

func readOffsets(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse offsets file %s: %w", path, err)
	}
	if m == nil {
		m = map[string]int64{}
	}
	return m, nil
}

// Path returns the stable offsets file path.
func (s *Store) Path() string {
	return s.path
}

package reader

import (
	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/walfile"
	"github.com/obstack/walpipe/pkg/log"
)

// Start says where in a WAL file reading begins.
type Start struct {
	pos int64
}

// FromBeginning starts at the first entry.
func FromBeginning() Start {
	return Start{}
}

// FromCheckpoint resumes at a previously committed byte offset.
func FromCheckpoint(pos int64) Start {
	return Start{pos: pos}
}

// Reader decodes one WAL file into ordered entries from an arbitrary
// starting byte offset. Each successful read advances the running position
// by the entry's framed length; that position is exactly what the offset
// store persists, so a resumed reader lands on the same byte.
type Reader struct {
	f      *walfile.File
	dest   domain.Destination
	logger log.Logger
}

// Open opens path at the given start position. Returns domain.ErrNotFound
// for a missing file and domain.ErrInvalidFormat for a bad header.
func Open(path string, start Start, dest domain.Destination, logger log.Logger) (*Reader, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	f, err := walfile.Open(path, start.pos)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, dest: dest, logger: logger}, nil
}

// Header returns the file's key/value header.
func (r *Reader) Header() map[string]string {
	return r.f.Header()
}

// Next returns the next decoded entry, or (nil, nil) when no more written
// data is available yet. A corrupt record returns domain.ErrDecode; callers
// treat that as end-of-readable-data for this file.
func (r *Reader) Next() (*domain.Entry, error) {
	startPos := r.f.CurrentPosition()

	payload, _, err := r.f.ReadEntryWithLength()
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, nil
	}

	stream, schemaKey, partitionKey, records, err := domain.DecodePayload(payload)
	if err != nil {
		return nil, err
	}

	return &domain.Entry{
		Stream:       stream,
		SchemaKey:    schemaKey,
		PartitionKey: partitionKey,
		Records:      records,
		File:         r.f.Path(),
		StartPos:     startPos,
		EndPos:       r.f.CurrentPosition(),
		Dest:         r.dest,
	}, nil
}

// Position returns the byte offset reached after the last read.
func (r *Reader) Position() int64 {
	return r.f.CurrentPosition()
}

// Path returns the file being read.
func (r *Reader) Path() string {
	return r.f.Path()
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

package domain

import "errors"

// Error taxonomy for the pipeline. Per-file failures (I/O, decode) isolate
// to the affected file; transport errors are retryable; config errors are
// fatal at startup.
var (
	// ErrEmptyBatch is returned when a write is attempted with no records.
	ErrEmptyBatch = errors.New("empty record batch")

	// ErrNotFound is returned when a WAL file to read does not exist.
	ErrNotFound = errors.New("wal file not found")

	// ErrInvalidFormat is returned when a WAL file header cannot be parsed.
	ErrInvalidFormat = errors.New("invalid wal file format")

	// ErrDecode is returned for a corrupt entry. Readers treat it as
	// end-of-readable-data for that file, never as a process failure.
	ErrDecode = errors.New("corrupt wal entry")

	// ErrEntryTooLarge is returned when a batch encodes to more than the
	// per-entry size cap. Readers reject such lengths as corruption, so the
	// write side must never produce them.
	ErrEntryTooLarge = errors.New("wal entry too large")

	// ErrRetriesExhausted is returned when an entry could not be delivered
	// within the configured attempt budget.
	ErrRetriesExhausted = errors.New("export retries exhausted")

	// ErrUnsupportedSink is returned for a sink kind the pipeline does not
	// know how to build.
	ErrUnsupportedSink = errors.New("unsupported sink kind")

	// ErrUnknownDestination is returned when a WAL file header names a
	// destination absent from configuration.
	ErrUnknownDestination = errors.New("unknown destination")
)

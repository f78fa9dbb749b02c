package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/walfile"
)

var testStream = domain.Stream{OrgID: "org-a", Name: "audit", Type: "logs"}

func testRegistry(t *testing.T, opts Options, notify func(string)) *Registry {
	t.Helper()
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = 1 << 20
	}
	return NewRegistry(t.TempDir(), "p-1", opts, notify, nil)
}

func record(i int) domain.Record {
	return domain.Record(fmt.Sprintf(`{"seq":%d}`, i))
}

func TestWriteEmptyBatch(t *testing.T) {
	r := testRegistry(t, Options{}, nil)
	w, err := r.Writer("us-east", testStream)
	require.NoError(t, err)

	require.ErrorIs(t, w.Write("", "", nil), domain.ErrEmptyBatch)
}

func TestFirstWriteCreatesAndNotifies(t *testing.T) {
	var notified []string
	r := testRegistry(t, Options{}, func(p string) { notified = append(notified, p) })
	w, err := r.Writer("us-east", testStream)
	require.NoError(t, err)

	require.NoError(t, w.Write("", "", []domain.Record{record(1)}))

	require.Len(t, notified, 1)
	require.Equal(t, w.ActivePath(), notified[0])
	require.True(t, r.IsActive(notified[0]))

	f, err := walfile.Open(notified[0], 0)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, "us-east", f.Header()[walfile.HeaderDestination])
	require.Equal(t, "org-a", f.Header()[walfile.HeaderOrgID])
	require.Equal(t, "p-1", f.Header()[walfile.HeaderPipelineID])
}

func TestRotationOnSizeKeepsEveryRecordOnceInOrder(t *testing.T) {
	var notified []string
	r := testRegistry(t, Options{MaxFileSize: 256}, func(p string) { notified = append(notified, p) })
	w, err := r.Writer("us-east", testStream)
	require.NoError(t, err)

	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, w.Write("", "", []domain.Record{record(i)}))
	}
	require.NoError(t, w.Close())

	segs, err := ListSegments(filepath.Join(r.Root(), "us-east"))
	require.NoError(t, err)
	require.Greater(t, len(segs), 1, "expected rotation to produce multiple files")
	require.Equal(t, len(notified), len(segs))

	// Every record appears exactly once, in write order across files.
	var seen []string
	for _, seg := range segs {
		f, err := walfile.Open(seg, 0)
		require.NoError(t, err)
		for {
			payload, _, err := f.ReadEntryWithLength()
			require.NoError(t, err)
			if payload == nil {
				break
			}
			_, _, _, records, err := domain.DecodePayload(payload)
			require.NoError(t, err)
			require.Len(t, records, 1)
			seen = append(seen, string(records[0]))
		}
		require.NoError(t, f.Close())
	}
	require.Len(t, seen, total)
	for i, s := range seen {
		require.Equal(t, fmt.Sprintf(`{"seq":%d}`, i), s)
	}
}

func TestOversizedEntryStillWritten(t *testing.T) {
	r := testRegistry(t, Options{MaxFileSize: 64}, nil)
	w, err := r.Writer("us-east", testStream)
	require.NoError(t, err)

	big := domain.Record(fmt.Sprintf(`{"blob":"%0200d"}`, 0))
	require.NoError(t, w.Write("", "", []domain.Record{big}))
	require.NoError(t, w.Close())

	segs, err := ListSegments(filepath.Join(r.Root(), "us-east"))
	require.NoError(t, err)
	require.Len(t, segs, 1)
}

func TestRotateIfStale(t *testing.T) {
	var notified []string
	r := testRegistry(t, Options{MaxFileAge: 50 * time.Millisecond}, func(p string) { notified = append(notified, p) })
	w, err := r.Writer("us-east", testStream)
	require.NoError(t, err)

	require.NoError(t, w.Write("", "", []domain.Record{record(1)}))
	first := w.ActivePath()

	// Age the file by backdating its mtime.
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(first, old, old))

	r.SweepOnce()
	require.Empty(t, w.ActivePath(), "stale file should be closed")
	require.False(t, r.IsActive(first))

	// Next write opens a fresh file with the next sequence number.
	require.NoError(t, w.Write("", "", []domain.Record{record(2)}))
	require.NotEqual(t, first, w.ActivePath())
	require.Len(t, notified, 2)
}

func TestSequenceResumesAfterRestart(t *testing.T) {
	root := t.TempDir()
	r := NewRegistry(root, "p-1", Options{MaxFileSize: 1 << 20}, nil, nil)
	w, err := r.Writer("us-east", testStream)
	require.NoError(t, err)
	require.NoError(t, w.Write("", "", []domain.Record{record(1)}))
	first := w.ActivePath()
	require.NoError(t, w.Close())

	r2 := NewRegistry(root, "p-1", Options{MaxFileSize: 1 << 20}, nil, nil)
	w2, err := r2.Writer("us-east", testStream)
	require.NoError(t, err)
	require.NoError(t, w2.Write("", "", []domain.Record{record(2)}))
	require.Greater(t, w2.ActivePath(), first, "sequence ids must stay monotonic across restarts")
}

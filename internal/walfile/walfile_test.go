package walfile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obstack/walpipe/internal/domain"
)

func testHeader() map[string]string {
	return map[string]string{
		HeaderPipelineID:  "p-1",
		HeaderOrgID:       "org-a",
		HeaderStreamName:  "audit",
		HeaderStreamType:  "logs",
		HeaderDestination: "us-east",
	}
}

func TestCreateOpenHeaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000001.wal")

	wf, err := Create(path, testHeader(), 0)
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := Open(path, 0)
	require.NoError(t, err)
	defer rf.Close()

	require.Equal(t, testHeader(), rf.Header())
	require.Equal(t, rf.HeaderLen(), rf.CurrentPosition())
}

func TestWriteReadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000001.wal")

	wf, err := Create(path, testHeader(), 0)
	require.NoError(t, err)

	payloads := [][]byte{
		[]byte(`{"k":"v1"}`),
		[]byte(`{"k":"v2"}`),
		[]byte(`{"k":"v3","pad":"xxxxxxxxxxxxxxxx"}`),
	}
	var total int64
	for _, p := range payloads {
		n, err := wf.Write(p)
		require.NoError(t, err)
		require.Equal(t, EntrySize(len(p)), n)
		total += n
	}
	require.NoError(t, wf.Close())

	rf, err := Open(path, 0)
	require.NoError(t, err)
	defer rf.Close()

	for _, want := range payloads {
		got, n, err := rf.ReadEntryWithLength()
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, EntrySize(len(want)), n)
	}

	// Past the last entry there is no more data.
	got, n, err := rf.ReadEntryWithLength()
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, n)
	require.Equal(t, rf.HeaderLen()+total, rf.CurrentPosition())

	info, err := rf.Metadata()
	require.NoError(t, err)
	require.Equal(t, info.Size(), rf.CurrentPosition())
}

func TestOpenAtOffsetSkipsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000001.wal")

	wf, err := Create(path, testHeader(), 0)
	require.NoError(t, err)
	first, err := wf.Write([]byte(`{"k":"v1"}`))
	require.NoError(t, err)
	_, err = wf.Write([]byte(`{"k":"v2"}`))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	rf, err := Open(path, 0)
	require.NoError(t, err)
	resume := rf.HeaderLen() + first
	require.NoError(t, rf.Close())

	rf, err = Open(path, resume)
	require.NoError(t, err)
	defer rf.Close()

	got, _, err := rf.ReadEntryWithLength()
	require.NoError(t, err)
	require.Equal(t, []byte(`{"k":"v2"}`), got)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.wal"), 0)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wal")
	require.NoError(t, os.WriteFile(path, []byte("not a wal file"), 0o644))

	_, err := Open(path, 0)
	require.ErrorIs(t, err, domain.ErrInvalidFormat)
}

func TestPartialTailReadsAsNoData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000001.wal")

	wf, err := Create(path, testHeader(), 0)
	require.NoError(t, err)
	_, err = wf.Write([]byte(`{"k":"v1"}`))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	// Simulate a half-written next entry: a length prefix with no payload.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], 100)
	_, err = f.Write(lenBuf[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rf, err := Open(path, 0)
	require.NoError(t, err)
	defer rf.Close()

	got, _, err := rf.ReadEntryWithLength()
	require.NoError(t, err)
	require.NotNil(t, got)

	pos := rf.CurrentPosition()
	got, n, err := rf.ReadEntryWithLength()
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, n)
	// Position must not advance past the partial frame.
	require.Equal(t, pos, rf.CurrentPosition())
}

func TestCorruptEntryChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000001.wal")

	wf, err := Create(path, testHeader(), 0)
	require.NoError(t, err)
	_, err = wf.Write([]byte(`{"k":"v1"}`))
	require.NoError(t, err)
	require.NoError(t, wf.Close())

	// Flip a payload byte.
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	rf, err := Open(path, 0)
	require.NoError(t, err)
	hdrLen := rf.HeaderLen()
	require.NoError(t, rf.Close())
	b[hdrLen+5] ^= 0xFF
	require.NoError(t, os.WriteFile(path, b, 0o644))

	rf, err = Open(path, 0)
	require.NoError(t, err)
	defer rf.Close()

	_, _, err = rf.ReadEntryWithLength()
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestWriteRejectsOversizedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00000001.wal")

	wf, err := Create(path, testHeader(), 0)
	require.NoError(t, err)
	defer wf.Close()

	pos := wf.CurrentPosition()
	_, err = wf.Write(make([]byte, maxEntrySize+1))
	require.ErrorIs(t, err, domain.ErrEntryTooLarge)
	// The rejected entry must not move the position or poison the file.
	require.Equal(t, pos, wf.CurrentPosition())

	_, err = wf.Write([]byte(`{"k":"v1"}`))
	require.NoError(t, err)
	require.NoError(t, wf.Sync())

	rf, err := Open(path, 0)
	require.NoError(t, err)
	defer rf.Close()
	got, _, err := rf.ReadEntryWithLength()
	require.NoError(t, err)
	require.JSONEq(t, `{"k":"v1"}`, string(got))
}

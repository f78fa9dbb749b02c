package reader

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/walfile"
)

var testDest = domain.Destination{Name: "us-east", Endpoint: "http://example.invalid/ingest", Token: "tok"}

func writeTestFile(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "00000001.wal")
	f, err := walfile.Create(path, map[string]string{
		walfile.HeaderPipelineID:  "p-1",
		walfile.HeaderOrgID:       "org-a",
		walfile.HeaderStreamName:  "audit",
		walfile.HeaderStreamType:  "logs",
		walfile.HeaderDestination: "us-east",
	}, 0)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		payload, err := domain.EncodePayload(
			domain.Stream{OrgID: "org-a", Name: "audit", Type: "logs"},
			"s1", "p1",
			[]domain.Record{domain.Record(fmt.Sprintf(`{"seq":%d}`, i))},
		)
		require.NoError(t, err)
		_, err = f.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
	return path
}

func TestRoundTripInOrder(t *testing.T) {
	path := writeTestFile(t, 5)

	r, err := Open(path, FromBeginning(), testDest, nil)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 5; i++ {
		e, err := r.Next()
		require.NoError(t, err)
		require.NotNil(t, e)
		require.Equal(t, "org-a", e.Stream.OrgID)
		require.Equal(t, "s1", e.SchemaKey)
		require.Len(t, e.Records, 1)
		require.JSONEq(t, fmt.Sprintf(`{"seq":%d}`, i), string(e.Records[0]))
		require.Equal(t, path, e.File)
		require.Equal(t, testDest, e.Dest)
		require.Less(t, e.StartPos, e.EndPos)
		require.Equal(t, e.EndPos, r.Position())
	}

	e, err := r.Next()
	require.NoError(t, err)
	require.Nil(t, e)

	// Final position equals total bytes written.
	f, err := walfile.Open(path, 0)
	require.NoError(t, err)
	info, err := f.Metadata()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, info.Size(), r.Position())
}

func TestResumeEquivalence(t *testing.T) {
	path := writeTestFile(t, 6)

	// Read from the beginning, stopping after two entries.
	full, err := Open(path, FromBeginning(), testDest, nil)
	require.NoError(t, err)
	defer full.Close()

	var checkpoint int64
	for i := 0; i < 2; i++ {
		e, err := full.Next()
		require.NoError(t, err)
		checkpoint = e.EndPos
	}

	var wantTail []*domain.Entry
	for {
		e, err := full.Next()
		require.NoError(t, err)
		if e == nil {
			break
		}
		wantTail = append(wantTail, e)
	}

	// A reader resumed at the checkpoint yields the same remaining entries
	// and the same final position.
	resumed, err := Open(path, FromCheckpoint(checkpoint), testDest, nil)
	require.NoError(t, err)
	defer resumed.Close()

	for _, want := range wantTail {
		got, err := resumed.Next()
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, want.Records, got.Records)
		require.Equal(t, want.StartPos, got.StartPos)
		require.Equal(t, want.EndPos, got.EndPos)
	}
	got, err := resumed.Next()
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, full.Position(), resumed.Position())
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.wal"), FromBeginning(), testDest, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStreamIdentityFromHeader(t *testing.T) {
	path := writeTestFile(t, 1)

	r, err := Open(path, FromBeginning(), testDest, nil)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, "us-east", r.Header()[walfile.HeaderDestination])
	require.Equal(t, "audit", r.Header()[walfile.HeaderStreamName])
}

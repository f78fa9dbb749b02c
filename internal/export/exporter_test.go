package export

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/internal/offsets"
)

// stubSink fails a configurable number of times before succeeding.
type stubSink struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *stubSink) Export(ctx context.Context, e *domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("boom")
	}
	return nil
}

func (s *stubSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testEntry() *domain.Entry {
	return &domain.Entry{
		Stream:  domain.Stream{OrgID: "org-a", Name: "audit", Type: "logs"},
		Records: []domain.Record{domain.Record(`{"k":"v"}`)},
		File:    "/wal/us-east/00000001.wal",
		EndPos:  128,
		Dest:    domain.Destination{Name: "us-east", Endpoint: "http://example.invalid", Token: "tok"},
	}
}

func TestExportSucceedsAfterRetriesAndCommitsOffset(t *testing.T) {
	sink := &stubSink{failures: 2}
	store := offsets.NewStore(t.TempDir(), nil)
	x := New(sink, store, Config{MaxAttempts: 4, InitialBackoff: 10 * time.Millisecond}, nil, nil)

	e := testEntry()
	started := time.Now()
	require.NoError(t, x.ExportEntry(context.Background(), e))
	elapsed := time.Since(started)

	require.Equal(t, 3, sink.callCount())
	// Two retries: 10ms then 20ms of geometric backoff at minimum.
	require.GreaterOrEqual(t, elapsed, 30*time.Millisecond)

	pos, ok := store.Get(e.File)
	require.True(t, ok)
	require.Equal(t, int64(128), pos)
}

func TestExportExhaustionAbandon(t *testing.T) {
	sink := &stubSink{failures: 100}
	store := offsets.NewStore(t.TempDir(), nil)
	store.Save("/wal/us-east/00000001.wal", 64)

	var stopped []string
	var abandoned []bool
	x := New(sink, store, Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		OnExhausted:    PolicyAbandon,
	}, func(p string, abandon bool) {
		stopped = append(stopped, p)
		abandoned = append(abandoned, abandon)
	}, nil)

	err := x.ExportEntry(context.Background(), testEntry())
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	require.Equal(t, 3, sink.callCount(), "must attempt exactly the configured budget")
	require.Equal(t, []string{"/wal/us-east/00000001.wal"}, stopped)
	// The watcher is told to sideline, not just stop watching.
	require.Equal(t, []bool{true}, abandoned)

	// Abandon drops the checkpoint so a restart does not resurrect the file.
	_, ok := store.Get("/wal/us-east/00000001.wal")
	require.False(t, ok)
}

func TestExportExhaustionPark(t *testing.T) {
	sink := &stubSink{failures: 100}
	store := offsets.NewStore(t.TempDir(), nil)
	store.Save("/wal/us-east/00000001.wal", 64)

	var stopped []string
	var abandoned []bool
	x := New(sink, store, Config{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		OnExhausted:    PolicyPark,
	}, func(p string, abandon bool) {
		stopped = append(stopped, p)
		abandoned = append(abandoned, abandon)
	}, nil)

	err := x.ExportEntry(context.Background(), testEntry())
	require.ErrorIs(t, err, domain.ErrRetriesExhausted)
	require.Len(t, stopped, 1)
	require.Equal(t, []bool{false}, abandoned)

	// Park keeps the checkpoint so a restart resumes the tail.
	pos, ok := store.Get("/wal/us-east/00000001.wal")
	require.True(t, ok)
	require.Equal(t, int64(64), pos)
}

func TestExportCancelledDuringBackoff(t *testing.T) {
	sink := &stubSink{failures: 100}
	store := offsets.NewStore(t.TempDir(), nil)
	x := New(sink, store, Config{MaxAttempts: 5, InitialBackoff: time.Hour}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := x.ExportEntry(ctx, testEntry())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, sink.callCount())
}

func TestRunConsumesUntilStopped(t *testing.T) {
	sink := &stubSink{}
	store := offsets.NewStore(t.TempDir(), nil)
	x := New(sink, store, Config{MaxAttempts: 1}, nil, nil)

	entries := make(chan *domain.Entry, 2)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		x.Run(context.Background(), entries, stop)
		close(done)
	}()

	entries <- testEntry()
	entries <- testEntry()
	require.Eventually(t, func() bool { return sink.callCount() == 2 }, time.Second, 5*time.Millisecond)

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exporter did not stop")
	}
}

func TestParseKindAndPolicy(t *testing.T) {
	k, err := ParseKind("http")
	require.NoError(t, err)
	require.Equal(t, KindHTTP, k)

	_, err = ParseKind("carrier-pigeon")
	require.ErrorIs(t, err, domain.ErrUnsupportedSink)

	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyAbandon, p)

	p, err = ParsePolicy("park")
	require.NoError(t, err)
	require.Equal(t, PolicyPark, p)

	_, err = ParsePolicy("retry-forever")
	require.Error(t, err)
}

func TestHTTPSinkPostsGzipJSONWithAuth(t *testing.T) {
	var gotAuth, gotEncoding string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		gotBody, err = io.ReadAll(zr)
		require.NoError(t, err)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.Client(), nil)
	e := testEntry()
	e.Dest.Endpoint = srv.URL

	require.NoError(t, sink.Export(context.Background(), e))
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "gzip", gotEncoding)
	require.JSONEq(t, `{
		"stream": {"org_id":"org-a","name":"audit","type":"logs"},
		"records": [{"k":"v"}]
	}`, string(gotBody))
}

func TestHTTPSinkNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.Client(), nil)
	e := testEntry()
	e.Dest.Endpoint = srv.URL

	err := sink.Export(context.Background(), e)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

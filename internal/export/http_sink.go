package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSink delivers entries as gzip-compressed JSON POSTs to the entry's
// destination endpoint with a Bearer token.
type HTTPSink struct {
	client HTTPClient
	logger log.Logger
}

// NewHTTPSink creates an HTTP sink.
func NewHTTPSink(client HTTPClient, logger log.Logger) *HTTPSink {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &HTTPSink{client: client, logger: logger}
}

type httpBody struct {
	Stream       domain.Stream   `json:"stream"`
	SchemaKey    string          `json:"schema_key,omitempty"`
	PartitionKey string          `json:"partition_key,omitempty"`
	Records      []domain.Record `json:"records"`
}

// Export posts one entry. Any transport failure or non-2xx status is an
// error the exporter may retry.
func (s *HTTPSink) Export(ctx context.Context, e *domain.Entry) error {
	body, err := json.Marshal(httpBody{
		Stream:       e.Stream,
		SchemaKey:    e.SchemaKey,
		PartitionKey: e.PartitionKey,
		Records:      e.Records,
	})
	if err != nil {
		return fmt.Errorf("marshal export body: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return fmt.Errorf("compress export body: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize export body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Dest.Endpoint, &buf)
	if err != nil {
		return fmt.Errorf("create export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+e.Dest.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send export request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sink returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

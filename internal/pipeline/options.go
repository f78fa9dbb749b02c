package pipeline

import (
	"github.com/obstack/walpipe/internal/export"
	"github.com/obstack/walpipe/pkg/log"
)

type options struct {
	logger     log.Logger
	sink       export.Sink
	httpClient export.HTTPClient
}

// Option configures optional pipeline collaborators.
type Option func(*options)

// WithLogger sets the logger used by the pipeline and everything it owns.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSink replaces the configured sink with a caller-provided one.
func WithSink(s export.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithHTTPClient sets the HTTP client the default sink delivers with.
func WithHTTPClient(c export.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

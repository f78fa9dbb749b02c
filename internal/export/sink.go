package export

import (
	"context"
	"fmt"
	"net/http"

	"github.com/obstack/walpipe/internal/domain"
	"github.com/obstack/walpipe/pkg/log"
)

// Sink is a delivery target for decoded entries. Any returned error is
// treated as retryable by the exporter.
type Sink interface {
	Export(ctx context.Context, e *domain.Entry) error
}

// Kind enumerates the supported sink transports.
type Kind int

const (
	// KindHTTP delivers entries as HTTP POSTs to the entry's endpoint.
	KindHTTP Kind = iota
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "http", "":
		return KindHTTP, nil
	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedSink, s)
	}
}

// SinkOptions carries the collaborators a sink may need.
type SinkOptions struct {
	HTTPClient HTTPClient
	Logger     log.Logger
}

// NewSink builds a sink of the given kind. An unknown kind is a
// configuration error surfaced at startup, not at delivery time.
func NewSink(kind Kind, opts SinkOptions) (Sink, error) {
	switch kind {
	case KindHTTP:
		client := opts.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		return NewHTTPSink(client, opts.Logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSink, kind)
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUpstream marks failures that originate at the model backend: connection
// errors, error responses and streams that end before completing.
var ErrUpstream = errors.New("upstream failure")

func upstreamError(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrUpstream, err)
}

// Provider dispatches a completion request to a model backend.
type Provider interface {
	Name() string
	Model() string
	// Stream returns a handle without waiting for the backend. The
	// connection is opened on the first call to Next.
	Stream(ctx context.Context, req Request) Stream
}

// Stream is a forward-only, single-use sequence of chunks.
type Stream interface {
	Next() bool
	Current() Chunk
	// Err returns the error that stopped iteration, wrapping ErrUpstream
	// for backend failures.
	Err() error
	Close() error
}

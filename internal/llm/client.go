// Package llm provides raw HTTP clients for the code generation and
// judge backends. Each provider gets its own client with the provider's
// native wire format; no SDKs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evolab/internal/logging"
)

// Client is the interface implemented by all generation backends.
type Client interface {
	// Generate produces a completion for the prompt at the given
	// sampling temperature.
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)

	// Model returns the model identifier used by this client.
	Model() string
}

// ErrMissingAPIKey indicates the backend's credential was not found in
// the environment. Key lookup is deferred until first use so that
// offline paths (archive queries, fusion of existing code) never
// require credentials.
var ErrMissingAPIKey = errors.New("api key not set")

// BackendError wraps a provider failure with the backend name so the
// caller can tell which tier of the pipeline lost its provider.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// rateLimiter enforces a minimum interval between requests to a
// provider. Shared by all clients.
type rateLimiter struct {
	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func (r *rateLimiter) wait() {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastRequest)
	if elapsed < r.minInterval {
		time.Sleep(r.minInterval - elapsed)
	}
	r.lastRequest = time.Now()
}

// withDeadline ensures the context carries a deadline, falling back to
// the client's HTTP timeout when the caller did not set one.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

// retryBackoff sleeps before retry attempt i (1-based) with
// exponential backoff, honoring context cancellation.
func retryBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	logging.APIDebug("retrying in %v (attempt %d)", backoff, attempt)
	select {
	case <-time.After(backoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncate shortens s for error messages and logs.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

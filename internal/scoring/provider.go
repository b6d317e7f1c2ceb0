package scoring

import (
	"context"
	"errors"
	"fmt"
)

// Provider wraps one model backend behind a single blocking call. A provider
// performs no retries of its own; retry policy lives above it.
type Provider interface {
	Generate(ctx context.Context, system string, user string) (string, error)
	Model() string
}

// StatusError carries the upstream HTTP status so the client can classify the
// failure without knowing which SDK produced it.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scoring upstream returned %d: %s", e.Code, e.Message)
}

var (
	// ErrOverloaded is returned when a call could not be admitted within the
	// queueing timeout. Retryable.
	ErrOverloaded = errors.New("scoring client overloaded")

	// ErrBadResponse means the model reply could not be parsed into a valid
	// score. Never retried.
	ErrBadResponse = errors.New("malformed scoring response")
)

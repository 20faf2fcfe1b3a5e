package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrOverloaded means the model service signalled capacity exhaustion.
	ErrOverloaded = errors.New("ai: service overloaded")
	// ErrUnavailable covers other server-side or transport failures.
	ErrUnavailable = errors.New("ai: service unavailable")
)

// StatusError is a non-2xx answer from a model service.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return classify(e.StatusCode, e.Message)
}

func classify(status int, msg string) error {
	switch {
	case status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests:
		return ErrOverloaded
	case looksOverloaded(msg):
		return ErrOverloaded
	case status >= 500:
		return ErrUnavailable
	}
	return nil
}

func looksOverloaded(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "overloaded") ||
		strings.Contains(m, "resource_exhausted") ||
		strings.Contains(m, "rate limit")
}

// streamError classifies an error reported inside a stream body.
func streamError(provider, msg string) error {
	if looksOverloaded(msg) {
		return fmt.Errorf("%s: %s: %w", provider, msg, ErrOverloaded)
	}
	return fmt.Errorf("%s: %s", provider, msg)
}

// transportError wraps request failures (timeouts, resets) as ErrUnavailable.
func transportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrUnavailable, err)
}

package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/galaxy-chat/internal/ai"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")

	ErrServiceOverloaded  = errors.New("the AI service is overloaded, please retry shortly")
	ErrServiceUnavailable = errors.New("the AI service is unavailable")

	// ErrStreamInterrupted is returned once part of a reply was forwarded.
	// Whatever was buffered has been persisted.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// classifyModelErr maps provider failures onto the service's sentinels.
func classifyModelErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ai.ErrOverloaded):
		return fmt.Errorf("%w: %w", ErrServiceOverloaded, err)
	case errors.Is(err, ai.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return err
}

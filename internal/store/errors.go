package store

import (
	"context"
	"errors"
	"fmt"
)

// Resolve failures are classified into exactly one of these sentinels.
// Callers match with errors.Is.
var (
	// ErrNotFound means the store has no presentable page for the id.
	ErrNotFound = errors.New("catalog entry not found")
	// ErrNetwork covers transport failures, timeouts and server errors.
	ErrNetwork = errors.New("store unreachable")
	// ErrParse means a page was fetched but lacked required fields.
	ErrParse = errors.New("store page unparseable")
)

// classify wraps err in ErrNetwork unless it already carries a sentinel.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParse), errors.Is(err, ErrNetwork):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out: %w", ErrNetwork, err)
	default:
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
}

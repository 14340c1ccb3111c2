package db

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	apperrors "github.com/veyrok/swarmstore/internal/errors"
)

// withRetry runs op up to attempts times with jittered exponential
// backoff. Fatal errors (closed store, validation, bad queries) are
// never retried. If all attempts fail the last error is surfaced as
// ErrStorageUnavailable so callers can tell a persistently unavailable
// store from a bad request.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return mapErr(err)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if apperrors.IsFatal(lastErr) {
			return lastErr
		}

		if i < attempts-1 {
			delay := baseDelay << uint(i)
			delay += time.Duration(rand.Int63n(int64(baseDelay)))
			select {
			case <-ctx.Done():
				return mapErr(ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w: %d attempts failed: %v", apperrors.ErrStorageUnavailable, attempts, lastErr)
}

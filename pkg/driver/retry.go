package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/atbu-go/atbu/pkg/atbuerr"
	"github.com/atbu-go/atbu/pkg/metrics"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds how many attempts an object-store call gets before
// the driver gives up with retry-limit-reached (spec.md §7).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy makes up to three attempts (two retries) with a short
// linear backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}

// WithRetry runs fn up to policy.MaxAttempts times in total, retrying on
// error with a linearly increasing backoff between attempts. storageDef and
// operation only label the retry metric.
func WithRetry(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, storageDef, operation string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		metrics.RetriesTotal.WithLabelValues(storageDef, operation).Inc()
		logger.Warn().Err(lastErr).Str("operation", operation).Int("attempt", attempt).Msg("object-store call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Backoff * time.Duration(attempt)):
		}
	}
	return atbuerr.Wrap(atbuerr.RetryLimitReached,
		fmt.Sprintf("%s failed after %d attempts", operation, policy.MaxAttempts), lastErr)
}

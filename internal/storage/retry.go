package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryableCodes are SQLSTATEs worth another attempt: serialization_failure,
// deadlock_detected and lock_not_available.
var retryableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// maxRetryInterval caps the exponential backoff between attempts.
const maxRetryInterval = 2 * time.Second

// IsRetryable reports whether err is a transient Postgres conflict or a
// connection failure that happened before anything was sent.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	return pgconn.SafeToRetry(err)
}

// WithRetry runs fn, retrying up to maxRetries times while it fails with a
// retryable error. Waits grow exponentially from baseDelay with jitter.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = max(baseDelay, maxRetryInterval)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(maxRetries, 0)+1)),
	)
	// On the last try Retry hands back the error still wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}

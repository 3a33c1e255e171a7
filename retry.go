package indexlake

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConflict runs op, retrying with exponential backoff while it fails
// with ErrConflict, for at most 10 seconds of total elapsed time; after
// that the last error is returned. Any other error stops the retry loop
// immediately, as does ctx cancellation.
func RetryConflict(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

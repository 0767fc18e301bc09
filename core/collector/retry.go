package collector

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
)

// retryFetch runs fn with bounded exponential backoff. Only transient source
// failures are retried; any other error fails immediately.
func retryFetch[T any](ctx context.Context, maxRetries uint64, fn func() (T, error)) (T, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	return backoff.RetryNotifyWithData(func() (T, error) {
		result, err := fn()
		if err != nil && !errors.Is(err, errs.SourceUnavailable) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}, policy, func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Remote query failed, retrying",
			slogx.Error(err),
			slogx.Duration("retry_in", wait),
		)
	})
}

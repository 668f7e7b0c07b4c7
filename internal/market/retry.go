package market

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jlindberg/omxtrader/internal/types"
	"github.com/jlindberg/omxtrader/pkg/errors"
)

// RetryingSnapshot wraps any Snapshot with a per-call timeout and
// exponential backoff. Not-found errors are final and never retried; on
// exhaustion the caller sees ErrCodeProviderTimeout and skips only the
// affected ticker.
type RetryingSnapshot struct {
	inner    Snapshot
	timeout  time.Duration
	attempts uint64
}

func NewRetryingSnapshot(inner Snapshot, timeout time.Duration, attempts uint64) *RetryingSnapshot {
	return &RetryingSnapshot{inner: inner, timeout: timeout, attempts: attempts}
}

func (r *RetryingSnapshot) LatestPrice(ctx context.Context, ticker string) (types.PriceObservation, error) {
	return retry(ctx, r, func(callCtx context.Context) (types.PriceObservation, error) {
		return r.inner.LatestPrice(callCtx, ticker)
	})
}

func (r *RetryingSnapshot) MacroSeries(ctx context.Context, symbol string) (types.MacroObservation, error) {
	return retry(ctx, r, func(callCtx context.Context) (types.MacroObservation, error) {
		return r.inner.MacroSeries(callCtx, symbol)
	})
}

func (r *RetryingSnapshot) Fundamentals(ctx context.Context, ticker string) (types.Fundamentals, error) {
	return retry(ctx, r, func(callCtx context.Context) (types.Fundamentals, error) {
		return r.inner.Fundamentals(callCtx, ticker)
	})
}

func retry[T any](ctx context.Context, r *RetryingSnapshot, call func(context.Context) (T, error)) (T, error) {
	var result T

	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		value, err := call(callCtx)
		if err != nil {
			if isNotFound(err) {
				return backoff.Permanent(err)
			}

			return err
		}

		result = value

		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.attempts), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if isNotFound(err) {
			return result, err
		}

		return result, errors.Wrap(errors.ErrCodeProviderTimeout, "market snapshot unavailable", err)
	}

	return result, nil
}

func isNotFound(err error) bool {
	return errors.HasCode(err, errors.ErrCodePriceNotFound) ||
		errors.HasCode(err, errors.ErrCodeMacroNotFound) ||
		errors.HasCode(err, errors.ErrCodeDataUnavailable)
}

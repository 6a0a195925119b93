package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sig-0/p2pquotes/provider"
	"github.com/sig-0/p2pquotes/storage/types"
)

var errEmptyResult = errors.New("adapter returned no result")

// RetryPolicy bounds the fetch attempts of a single source
type RetryPolicy struct {
	MaxAttempts    int
	Backoff        time.Duration // fixed wait between attempts
	AttemptTimeout time.Duration // 0 means bounded by the caller only
}

var (
	// BybitRetryPolicy fits the rendered marketplace, which loads slowly and flakily
	BybitRetryPolicy = RetryPolicy{
		MaxAttempts:    10,
		Backoff:        5 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}

	// BinanceRetryPolicy fits the REST API
	BinanceRetryPolicy = RetryPolicy{
		MaxAttempts:    3,
		Backoff:        2 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
)

// Retrier runs source fetches with bounded retries on transient errors
type Retrier struct {
	clock  provider.Clock
	logger *slog.Logger
}

// NewRetrier creates a new retrier. A nil clock uses the wall clock
func NewRetrier(clock provider.Clock, logger *slog.Logger) *Retrier {
	if clock == nil {
		clock = provider.SystemClock{}
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Retrier{
		clock:  clock,
		logger: logger,
	}
}

// Fetch fetches from the adapter until it succeeds, fails with a
// non-transient error, or runs out of attempts.
// The outcome is always a result, failures included, and a failed
// result never carries listings
func (r *Retrier) Fetch(
	ctx context.Context,
	adapter Adapter,
	q types.Query,
	policy RetryPolicy,
) *types.FetchResult {
	var (
		source      = adapter.Source()
		maxAttempts = max(policy.MaxAttempts, 1)
		lastErr     error
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return contextFailure(ctx, source, q, attempt-1, lastErr)
		}

		res, err := r.attempt(ctx, adapter, q, policy.AttemptTimeout)
		if err == nil {
			res.Success = true
			res.ErrorCode = ""
			res.ErrorMessage = ""
			res.Meta.Source = source
			res.Meta.Query = q
			res.Meta.Attempts = attempt

			return res
		}

		lastErr = err

		if ctx.Err() != nil {
			return contextFailure(ctx, source, q, attempt, lastErr)
		}

		if !provider.IsTransient(err) {
			r.logger.Error(
				"fetch failed",
				"source", source,
				"attempt", attempt,
				"err", err,
			)

			code := provider.Code(err)
			if code == "" {
				code = provider.CodeRequestFailed
			}

			return failure(source, q, attempt, code, err.Error())
		}

		if attempt == maxAttempts {
			break
		}

		r.logger.Warn(
			"transient fetch error, retrying",
			"source", source,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", policy.Backoff.String(),
			"err", err,
		)

		if err = r.clock.Sleep(ctx, policy.Backoff); err != nil {
			return contextFailure(ctx, source, q, attempt, lastErr)
		}
	}

	r.logger.Error(
		"fetch gave up",
		"source", source,
		"attempts", maxAttempts,
		"err", lastErr,
	)

	return failure(
		source,
		q,
		maxAttempts,
		provider.CodeTimeout,
		fmt.Sprintf("gave up after %d attempts: %s", maxAttempts, lastErr),
	)
}

// attempt runs a single fetch. An adapter that ignores its context
// is abandoned once the context is done
func (r *Retrier) attempt(
	ctx context.Context,
	adapter Adapter,
	q types.Query,
	timeout time.Duration,
) (*types.FetchResult, error) {
	attemptCtx, cancelFn := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancelFn = context.WithTimeout(ctx, timeout)
	}
	defer cancelFn()

	type outcome struct {
		res *types.FetchResult
		err error
	}

	outCh := make(chan outcome, 1)

	go func() {
		res, err := adapter.Fetch(attemptCtx, q)

		outCh <- outcome{res: res, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, provider.NewTimeoutError(attemptCtx.Err())
		}

		return nil, provider.NewCancelledError(attemptCtx.Err())
	case o := <-outCh:
		if o.err != nil {
			// A per-attempt deadline is transient, whatever the adapter made of it
			if attemptCtx.Err() != nil && ctx.Err() == nil {
				return nil, provider.NewTimeoutError(o.err)
			}

			return nil, o.err
		}

		if o.res == nil {
			return nil, provider.NewStructuralError(errEmptyResult)
		}

		return o.res, nil
	}
}

// contextFailure is the terminal result once the caller context is done
func contextFailure(
	ctx context.Context,
	source types.Source,
	q types.Query,
	attempts int,
	lastErr error,
) *types.FetchResult {
	msg := fmt.Sprintf("%s after %d attempts", ctx.Err(), attempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s: %s", msg, lastErr)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure(source, q, attempts, provider.CodeTimeout, msg)
	}

	return failure(source, q, attempts, provider.CodeCancelled, msg)
}

func failure(source types.Source, q types.Query, attempts int, code, msg string) *types.FetchResult {
	return &types.FetchResult{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: msg,
		Listings:     nil,
		Meta: types.FetchMeta{
			Source:   source,
			Query:    q,
			Attempts: attempts,
		},
	}
}

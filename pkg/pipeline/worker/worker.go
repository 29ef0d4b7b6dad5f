package worker

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/shpitdev/contactsync/pkg/pipeline/core"
)

type FailurePolicy int

const (
	FailurePolicyPartialOutput FailurePolicy = iota
	FailurePolicyFailFast
)

type Options struct {
	// MaxRetries is the number of extra attempts after the first for transient failures.
	MaxRetries     int
	RequestTimeout time.Duration

	FailurePolicy FailurePolicy

	// BackoffInitial is the wait before retrying a transient failure that carries no cooldown.
	BackoffInitial time.Duration

	// Pace returns the pause to take after the done-th item (1-based) completes.
	// No pause follows the final item.
	Pace func(done int) time.Duration
}

// Result holds the output for one input item.
type Result[In any, Out any] struct {
	Input    In
	Output   Out
	Err      error
	Attempts int
}

// Hooks observe sequential processing. All hooks are optional.
type Hooks[In any, Out any] struct {
	// OnResult runs after each item completes; a non-nil error stops processing.
	OnResult func(done int, res Result[In, Out]) error
	// OnRetry runs before each wait between attempts.
	OnRetry func(in In, attempt int, err error, wait time.Duration)
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	return o
}

// ProcessSequential runs the processor over items one at a time, in order.
//
// Per-item errors are recorded on the result. A *core.FatalError stops the run and is
// returned together with the results gathered so far; FailurePolicyFailFast does the
// same for any error.
func ProcessSequential[In any, Out any](
	ctx context.Context,
	items []In,
	processor core.Processor[In, Out],
	hooks Hooks[In, Out],
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	out := make([]Result[In, Out], 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res := processOne(ctx, item, processor, hooks, opts)
		out = append(out, res)
		if hooks.OnResult != nil {
			if err := hooks.OnResult(i+1, res); err != nil {
				return out, err
			}
		}
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) && ctx.Err() != nil {
				return out, ctx.Err()
			}
			if IsFatal(res.Err) || opts.FailurePolicy == FailurePolicyFailFast {
				return out, res.Err
			}
		}

		if opts.Pace != nil && i < len(items)-1 {
			if err := Sleep(ctx, opts.Pace(i+1)); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	item In,
	processor core.Processor[In, Out],
	hooks Hooks[In, Out],
	opts Options,
) Result[In, Out] {
	attempts := 0
	pause := backoff.NewConstantBackOff(opts.BackoffInitial)

	op := func() (Out, error) {
		var zero Out
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}
		attempts++

		reqCtx, cancel := context.WithTimeout(ctx, opts.RequestTimeout)
		result, err := processor.Process(reqCtx, item)
		cancel()
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return result, backoff.Permanent(ctx.Err())
		}
		if IsFatal(err) || !IsTransient(err) || attempts > maxExtraRetries(opts.MaxRetries, err) {
			return result, backoff.Permanent(err)
		}
		pause.Interval = cooldown(err, opts.BackoffInitial)
		return result, err
	}

	notify := func(err error, wait time.Duration) {
		if hooks.OnRetry != nil {
			hooks.OnRetry(item, attempts, err, wait)
		}
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(pause),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	return Result[In, Out]{
		Input:    item,
		Output:   result,
		Err:      err,
		Attempts: attempts,
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func maxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

func cooldown(err error, fallback time.Duration) time.Duration {
	var te *core.TransientError
	if errors.As(err, &te) && te.Cooldown > 0 {
		return te.Cooldown
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) && lte.Cooldown > 0 {
		return lte.Cooldown
	}
	return fallback
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	var fe *core.FatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// Sleep waits for d or until ctx is done. Non-positive durations return immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

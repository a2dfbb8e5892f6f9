// Package retry runs an operation with a fixed delay between attempts and an
// optional success gate: a predicate on the result and/or a set of selectors
// that must become visible.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"farm_engine/internal/logbus"
)

const (
	DefaultMaxRetries  = 3
	DefaultInterval    = time.Second
	DefaultWaitTimeout = 5 * time.Second

	// NoRetry as MaxRetries runs the operation exactly once.
	NoRetry = -1
	// NoWait as Interval retries without sleeping.
	NoWait = time.Duration(-1)
)

var (
	ErrConditionNotMet = errors.New("success condition not met")
	// ErrSelectorTimeout wraps context.DeadlineExceeded so it classifies as a timeout.
	ErrSelectorTimeout = fmt.Errorf("selector not visible: %w", context.DeadlineExceeded)
)

// Checker waits for a selector to become visible. Implementations must return
// an error wrapping context.DeadlineExceeded when the wait times out.
type Checker interface {
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
}

type Visibility struct {
	Checker   Checker
	Selectors []string
	// RequireAll makes every selector mandatory; otherwise one is enough.
	RequireAll bool
	Timeout    time.Duration
}

type Options[T any] struct {
	Name             string
	MaxRetries       int
	Interval         time.Duration
	ShouldRetry      func(err error) bool
	OnRetry          func(attempt int, err error)
	SuccessCondition func(result T) bool
	Visibility       *Visibility
	Bus              *logbus.Bus
}

// ExhaustedError is returned when every attempt failed. It unwraps to the
// last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (o Options[T]) withDefaults() Options[T] {
	switch {
	case o.MaxRetries == 0:
		o.MaxRetries = DefaultMaxRetries
	case o.MaxRetries < 0:
		o.MaxRetries = 0
	}
	switch {
	case o.Interval == 0:
		o.Interval = DefaultInterval
	case o.Interval < 0:
		o.Interval = 0
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = func(error) bool { return true }
	}
	if o.Visibility != nil && o.Visibility.Timeout <= 0 {
		v := *o.Visibility
		v.Timeout = DefaultWaitTimeout
		o.Visibility = &v
	}
	return o
}

// Do runs op until it succeeds and passes the gate, or until MaxRetries+1
// attempts have been made. Operation errors rejected by ShouldRetry and
// non-timeout checker errors are returned immediately.
func Do[T any](ctx context.Context, op func(ctx context.Context, attempt int) (T, error), opts Options[T]) (T, error) {
	opts = opts.withDefaults()
	var zero T
	attempts := opts.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		res, err := op(ctx, attempt)
		if err != nil {
			if !opts.ShouldRetry(err) {
				opts.trace("operation failed, not retryable", attempt, err)
				return zero, err
			}
		} else {
			err = opts.gate(ctx, res)
			if err == nil {
				opts.trace("attempt succeeded", attempt, nil)
				return res, nil
			}
			if !retryableGateErr(err) {
				opts.trace("visibility check failed, not retryable", attempt, err)
				return zero, err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		opts.trace("attempt failed, retrying", attempt, err)
		if err := sleep(ctx, opts.Interval); err != nil {
			return zero, err
		}
	}
	opts.trace("retries exhausted", attempts, lastErr)
	return zero, &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, op func(ctx context.Context, attempt int) error, opts Options[struct{}]) error {
	_, err := Do(ctx, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	}, opts)
	return err
}

func (o Options[T]) gate(ctx context.Context, res T) error {
	if o.SuccessCondition != nil && !o.SuccessCondition(res) {
		return ErrConditionNotMet
	}
	if o.Visibility != nil && len(o.Visibility.Selectors) > 0 && o.Visibility.Checker != nil {
		return o.Visibility.check(ctx)
	}
	return nil
}

func retryableGateErr(err error) bool {
	return errors.Is(err, ErrConditionNotMet) || errors.Is(err, ErrSelectorTimeout)
}

func (v *Visibility) check(ctx context.Context) error {
	if v.RequireAll {
		for _, sel := range v.Selectors {
			if err := v.waitOne(ctx, sel); err != nil {
				return err
			}
		}
		return nil
	}
	return v.waitAny(ctx)
}

func (v *Visibility) waitOne(ctx context.Context, selector string) error {
	err := v.Checker.WaitVisible(ctx, selector, v.Timeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%q: %w", selector, ErrSelectorTimeout)
	}
	return err
}

// waitAny races all selectors; the first visible one wins.
func (v *Visibility) waitAny(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(v.Selectors))
	for _, sel := range v.Selectors {
		go func(sel string) {
			results <- v.waitOne(ctx, sel)
		}(sel)
	}

	var firstErr error
	for range v.Selectors {
		err := <-results
		if err == nil {
			return nil
		}
		if firstErr == nil || (errors.Is(firstErr, ErrSelectorTimeout) && !errors.Is(err, ErrSelectorTimeout) && !errors.Is(err, context.Canceled)) {
			firstErr = err
		}
	}
	return firstErr
}

func (o Options[T]) trace(msg string, attempt int, err error) {
	if o.Bus == nil || !o.Bus.DebugEnabled() {
		return
	}
	fields := map[string]any{"attempt": attempt, "maxAttempts": o.MaxRetries + 1}
	if o.Name != "" {
		fields["op"] = o.Name
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	o.Bus.Log("debug", "retry: "+msg, fields)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

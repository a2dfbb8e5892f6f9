// Package batch runs independent jobs in fixed-size concurrent chunks with a
// fixed pause between chunks, to keep bulk calls under upstream rate limits.
package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"farm_engine/internal/logbus"
)

const (
	DefaultBatchSize = 3
	DefaultDelay     = 1000 * time.Millisecond
)

type Options struct {
	Name      string
	BatchSize int
	Delay     time.Duration
	// Limiter, when set, additionally paces every single job start.
	Limiter *rate.Limiter
	Bus     *logbus.Bus
}

type Result struct {
	Success int `json:"successCount"`
	Fail    int `json:"failCount"`
	// Skipped items were never started because ctx ended; they are included in Fail.
	Skipped int   `json:"skipped"`
	Batches int   `json:"batches"`
	Sizes   []int `json:"sizes"`
	Delays  int   `json:"delays"`
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Delay < 0 {
		o.Delay = 0
	} else if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	if o.Name == "" {
		o.Name = "batch"
	}
	return o
}

// Run blocks until every chunk has finished. A job's error or panic counts as
// a failure and never stops its siblings or later chunks.
func Run[T any](ctx context.Context, items []T, job func(ctx context.Context, item T) error, opts Options) Result {
	opts = opts.withDefaults()
	var res Result
	if len(items) == 0 {
		return res
	}

	for start := 0; start < len(items); start += opts.BatchSize {
		if start > 0 {
			if err := sleep(ctx, opts.Delay); err != nil {
				res.Skipped = len(items) - start
				res.Fail += res.Skipped
				break
			}
			res.Delays++
		}
		if ctx.Err() != nil {
			res.Skipped = len(items) - start
			res.Fail += res.Skipped
			break
		}
		end := min(start+opts.BatchSize, len(items))
		ok, failed := runChunk(ctx, items[start:end], job, opts)
		res.Success += ok
		res.Fail += failed
		res.Batches++
		res.Sizes = append(res.Sizes, end-start)
	}

	opts.Bus.Log("info", "batch finished", map[string]any{
		"name":         opts.Name,
		"total":        len(items),
		"successCount": res.Success,
		"failCount":    res.Fail,
		"batches":      res.Batches,
	})
	return res
}

// Start runs the batch in the background and returns immediately. The tally
// is sent once on the returned channel, which is then closed.
func Start[T any](ctx context.Context, items []T, job func(ctx context.Context, item T) error, opts Options) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- Run(ctx, items, job, opts)
	}()
	return out
}

func runChunk[T any](ctx context.Context, chunk []T, job func(ctx context.Context, item T) error, opts Options) (int, int) {
	var ok, failed atomic.Int64
	var g errgroup.Group
	for _, item := range chunk {
		g.Go(func() error {
			if err := runOne(ctx, item, job, opts.Limiter); err != nil {
				failed.Add(1)
				opts.Bus.Log("warn", "batch item failed", map[string]any{
					"name":  opts.Name,
					"error": err.Error(),
				})
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(failed.Load())
}

func runOne[T any](ctx context.Context, item T, job func(ctx context.Context, item T) error, limiter *rate.Limiter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return job(ctx, item)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

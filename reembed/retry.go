// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/cellar/core"
)

// maxBackoff caps the wait between two attempts.
const maxBackoff = 30 * time.Second

// Backoff is an exponential retry schedule.
type Backoff struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Base is the wait after the first failure. It doubles after each
	// further failure up to Max.
	Base time.Duration
	// Max caps the wait. Zero means 30s.
	Max time.Duration
}

// Delay returns the wait after the given failed attempt, counted from 1.
func (b Backoff) Delay(attempt int) time.Duration {
	limit := b.Max
	if limit <= 0 {
		limit = maxBackoff
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	return min(d, limit)
}

// Permanent reports whether err will fail the same way on every attempt.
// Cancellation and dimension mismatches are never retried.
func Permanent(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, core.ErrDimensionMismatch)
}

// Retry calls op until it succeeds, returns a permanent error, ctx ends or
// the schedule runs out. The error of the last attempt is returned.
func Retry[T any](ctx context.Context, b Backoff, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if b.Attempts <= 0 {
		return zero, ErrInvalidMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("embedding call recovered", "attempt", attempt)
			}
			return v, nil
		}
		if Permanent(err) {
			return zero, err
		}
		lastErr = err

		if attempt == b.Attempts {
			break
		}
		wait := b.Delay(attempt)
		logger.Debug("embedding call failed, retrying", "attempt", attempt, "of", b.Attempts,
			"wait", wait, "err", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

package reembed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/cellar/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Base: time.Millisecond}
}

func TestRetry(t *testing.T) {
	errFlaky := errors.New("connection reset")

	tests := []struct {
		name         string
		attempts     int
		failures     int
		err          error
		wantErr      error
		wantAttempts int
	}{
		{name: "first try", attempts: 3, wantAttempts: 1},
		{name: "recovers", attempts: 5, failures: 2, err: errFlaky, wantAttempts: 3},
		{name: "exhausted", attempts: 3, failures: 10, err: errFlaky, wantErr: errFlaky, wantAttempts: 3},
		{
			name:         "permanent",
			attempts:     5,
			failures:     10,
			err:          fmt.Errorf("model changed: %w", core.ErrDimensionMismatch),
			wantErr:      core.ErrDimensionMismatch,
			wantAttempts: 1,
		},
		{name: "no attempts", attempts: 0, wantErr: ErrInvalidMaxAttempts},
		{name: "negative attempts", attempts: -1, wantErr: ErrInvalidMaxAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := Retry(context.Background(), fastBackoff(tt.attempts), nil, func(context.Context) (int, error) {
				calls++
				if calls <= tt.failures {
					return 0, tt.err
				}
				return calls, nil
			})

			assert.Equal(t, tt.wantAttempts, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, calls, got)
		})
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, fastBackoff(10), nil, func(context.Context) (struct{}, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return struct{}{}, errors.New("unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestRetry_ContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Retry(ctx, Backoff{Attempts: 10, Base: 20 * time.Millisecond}, nil, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("unavailable")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, calls, 10)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Attempts: 10, Base: 100 * time.Millisecond, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 200*time.Millisecond, b.Delay(2))
	assert.Equal(t, 400*time.Millisecond, b.Delay(3))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(5), "capped")
	assert.Equal(t, time.Second, b.Delay(60), "no overflow on long schedules")

	unbounded := Backoff{Base: time.Second}
	assert.Equal(t, maxBackoff, unbounded.Delay(20), "zero Max uses the default cap")
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"canceled", context.Canceled, true},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"dimension", core.ErrDimensionMismatch, true},
		{"unavailable", core.ErrEmbeddingUnavailable, false},
		{"plain", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Permanent(tt.err))
		})
	}
}

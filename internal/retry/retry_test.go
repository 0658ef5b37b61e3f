package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3), "capped")
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
	assert.Equal(t, time.Duration(0), Policy{}.Delay(1))
}

func TestDo(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		failures    int
		failWith    error
		wantCalls   int
		wantErr     bool
		wantExhaust bool
	}{
		{name: "first attempt succeeds", maxAttempts: 3, failures: 0, wantCalls: 1},
		{name: "succeeds on last attempt", maxAttempts: 3, failures: 2, failWith: errTransient, wantCalls: 3},
		{name: "exhausted", maxAttempts: 2, failures: 2, failWith: errTransient, wantCalls: 2, wantErr: true, wantExhaust: true},
		{name: "non-retryable returns immediately", maxAttempts: 3, failures: 3, failWith: errors.New("rejected"), wantCalls: 1, wantErr: true},
		{name: "zero attempts means one", maxAttempts: 0, failures: 1, failWith: errTransient, wantCalls: 1, wantErr: true, wantExhaust: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{MaxAttempts: tt.maxAttempts}
			calls := 0
			err := p.Do(context.Background(), isTransient, func(ctx context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var exhausted *ExhaustedError
			assert.Equal(t, tt.wantExhaust, errors.As(err, &exhausted))
			if tt.wantExhaust {
				assert.ErrorIs(t, err, errTransient)
			}
		})
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, Multiplier: 2}

	calls := 0
	err := p.Do(ctx, isTransient, func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

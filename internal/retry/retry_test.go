package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	errFlaky := errors.New("flaky")

	tests := []struct {
		name          string
		policy        Policy
		failures      int
		expectedCalls int
		expectError   bool
	}{
		{
			name:          "Succeeds first time",
			policy:        Fixed(3, time.Millisecond),
			failures:      0,
			expectedCalls: 1,
		},
		{
			name:          "Succeeds after retries",
			policy:        Fixed(3, time.Millisecond),
			failures:      2,
			expectedCalls: 3,
		},
		{
			name:          "Exhausts retries",
			policy:        Fixed(1, time.Millisecond),
			failures:      5,
			expectedCalls: 2,
			expectError:   true,
		},
		{
			name:          "No retries",
			policy:        Exponential(0, time.Millisecond),
			failures:      1,
			expectedCalls: 1,
			expectError:   true,
		},
		{
			name:          "Exponential succeeds",
			policy:        Exponential(2, time.Millisecond),
			failures:      2,
			expectedCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.policy, func() error {
				calls++
				if calls <= tt.failures {
					return errFlaky
				}
				return nil
			}, nil)

			assert.Equal(t, tt.expectedCalls, calls)
			if tt.expectError {
				assert.ErrorIs(t, err, errFlaky)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDo_Permanent(t *testing.T) {
	errFatal := errors.New("fatal")
	calls := 0

	err := Do(context.Background(), Fixed(5, time.Millisecond), func() error {
		calls++
		return Permanent(errFatal)
	}, nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, errFatal, err)
}

func TestDo_NotifyReportsRemaining(t *testing.T) {
	var remaining []int
	var waits []time.Duration

	err := Do(context.Background(), Fixed(3, 2*time.Millisecond), func() error {
		return errors.New("down")
	}, func(err error, wait time.Duration, left int) {
		remaining = append(remaining, left)
		waits = append(waits, wait)
	})

	require.Error(t, err)
	assert.Equal(t, []int{2, 1, 0}, remaining)
	for _, w := range waits {
		assert.Equal(t, 2*time.Millisecond, w)
	}
}

func TestDo_ExponentialDelays(t *testing.T) {
	var waits []time.Duration

	_ = Do(context.Background(), Exponential(3, time.Millisecond), func() error {
		return errors.New("down")
	}, func(err error, wait time.Duration, left int) {
		waits = append(waits, wait)
	})

	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, waits)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, Fixed(10, time.Hour), func() error {
		calls++
		cancel()
		return errors.New("down")
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

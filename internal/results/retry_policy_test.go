package results

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicyIsUnbounded(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy()
	require.False(t, p.Bounded())
	require.Equal(t, 2*time.Second, p.Backoff(1))
	for _, attempt := range []int{1, 10, 1_000_000} {
		require.True(t, p.ShouldRetry(attempt))
	}
}

func TestRetryPolicyWithMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewConstantRetryPolicy(time.Millisecond).WithMaxAttempts(3)
	require.True(t, p.Bounded())
	require.True(t, p.ShouldRetry(1))
	require.True(t, p.ShouldRetry(2))
	require.False(t, p.ShouldRetry(3))

	require.False(t, p.WithMaxAttempts(-4).Bounded())
}

func TestRetryPolicyConstantBackoff(t *testing.T) {
	t.Parallel()

	p := NewConstantRetryPolicy(250 * time.Millisecond)
	require.Equal(t, p.Backoff(1), p.Backoff(7))
	require.Equal(t, time.Duration(0), NewConstantRetryPolicy(-time.Second).Backoff(1))
}

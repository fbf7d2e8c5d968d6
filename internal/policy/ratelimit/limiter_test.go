package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bulk-result-crawler/internal/metrics"
)

func TestLimiterWaitThrottles(t *testing.T) {
	metrics.Init()

	// 10 requests per second = 100ms interval
	l := New(Config{RequestsPerSecond: 10, Burst: 1})
	ctx := context.Background()

	// Consume initial token
	require.NoError(t, l.Wait(ctx, "http://result.example.org/Result/ProgramSelect.aspx"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://result.example.org/Result/ProgramSelect.aspx"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 1, Burst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example.org"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example.org"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://a.example.org"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(ctx, "https://a.example.org"))
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RequestsPerSecond: 0.01, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.example.org"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.example.org"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "result.example.org", hostOf("http://result.example.org/x"))
	require.Equal(t, "unknown", hostOf("::::"))
}

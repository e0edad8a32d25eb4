package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitNow fails unless a token is available within a few milliseconds.
func waitNow(l *RateLimiter) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	return l.Wait(ctx)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		burst int
	}{
		{name: "standard rate", rate: 5, burst: 3},
		{name: "fractional rate", rate: 0.5, burst: 1},
		{name: "zero burst raised", rate: 1, burst: 0},
		{name: "unpaced", rate: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.rate, tt.burst)
			require.NotNil(t, l)
			assert.NoError(t, waitNow(l), "first attempt must never wait")
		})
	}
}

func TestWaitExhaustsBurst(t *testing.T) {
	l := New(10, 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, waitNow(l), "attempt %d within burst", i)
	}
	assert.Error(t, waitNow(l))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestWait(t *testing.T) {
	l := New(20, 1)
	require.NoError(t, waitNow(l))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(0.1, 1)
	require.NoError(t, waitNow(l))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// next token is ten seconds away, beyond the deadline
	start := time.Now()
	require.Error(t, l.Wait(ctx))
	assert.Less(t, time.Since(start), time.Second)
}

func TestUnpaced(t *testing.T) {
	l := New(0, 1)
	for i := 0; i < 1000; i++ {
		require.NoError(t, waitNow(l))
	}
}

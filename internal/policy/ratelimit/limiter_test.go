package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateSpacesCalls(t *testing.T) {
	g := New(Config{Name: "test", Interval: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, g.Wait(ctx))
	require.Less(t, time.Since(start), 50*time.Millisecond, "first call should pass immediately")

	start = time.Now()
	require.NoError(t, g.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestGateDisabled(t *testing.T) {
	g := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, g.Wait(ctx))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Zero(t, g.Interval())
}

func TestGateHonoursContext(t *testing.T) {
	g := New(Config{Interval: time.Hour})
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, g.Wait(ctx))
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}

func TestRunTicksOnInterval(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			if ticks.Add(1) == 3 {
				cancel()
			}
			return errors.New("ignored")
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int32(3))
}

func TestTriggerRunsImmediately(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan State, 1)
	go func() {
		_ = s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			ran <- s.State()
			return nil
		})
	}()

	require.True(t, s.Trigger())
	select {
	case st := <-ran:
		assert.Equal(t, Running, st)
	case <-time.After(2 * time.Second):
		t.Fatal("manual trigger did not run a cycle")
	}

	require.Eventually(t, func() bool { return s.State() == Idle }, time.Second, 5*time.Millisecond)
}

func TestTriggerCoalesces(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
}

func TestRunOnceSkipsWhenRunning(t *testing.T) {
	s := New(Options{Interval: time.Hour}, zerolog.Nop())
	calls := 0
	s.RunOnce(context.Background(), time.Now(), func(ctx context.Context, bucket time.Time) error {
		calls++
		// nested call observes Running and is skipped
		s.RunOnce(ctx, bucket, func(context.Context, time.Time) error {
			calls++
			return nil
		})
		return nil
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, "idle", s.State().String())
}

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 10, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), s.bucketStart(now))
}

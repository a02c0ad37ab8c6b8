package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle with the cycle's scheduled time.
type TickFunc func(ctx context.Context, bucket time.Time) error

// State is the scheduler's position in its two-state machine.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives cycles on a timer or on manual trigger. Cycles never overlap.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	state   atomic.Int32
	trigger chan struct{}
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:    opts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		trigger: make(chan struct{}, 1),
	}
}

// State reports whether a cycle is in flight.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Trigger requests an immediate cycle. It returns false when one is already
// pending; a trigger arriving mid-cycle runs right after that cycle.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run blocks, invoking tick at each interval or trigger until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_cycle", next).Msg("waiting for next cycle")

		manual := false
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
			manual = true
		}

		bucket := s.bucketStart(next)
		if manual {
			bucket = time.Now().UTC()
		}
		s.logger.Info().Time("bucket", bucket).Bool("manual", manual).Msg("executing cycle")
		s.RunOnce(ctx, bucket, tick)

		if !manual {
			next = next.Add(s.opts.Interval)
		}
	}
}

// RunOnce executes a single cycle, moving Idle→Running→Idle around it.
// Errors are logged, never returned, so the loop keeps going.
func (s *Scheduler) RunOnce(ctx context.Context, bucket time.Time, tick TickFunc) {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		s.logger.Warn().Time("bucket", bucket).Msg("cycle already running; skipped")
		return
	}
	defer s.state.Store(int32(Idle))

	if err := tick(ctx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("cycle execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

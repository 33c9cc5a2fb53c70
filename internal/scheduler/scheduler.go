package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned interval with the start of its slot.
type TickFunc func(ctx context.Context, slot time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunOnStart fires one tick right after the startup delay instead of
	// waiting for the first slot.
	RunOnStart bool
}

// Scheduler drives the periodic automation sweep.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking tick at each slot until ctx is cancelled. Tick errors
// are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, s.slotStart(s.now()))
	}

	next := s.nextTick(s.now())
	for {
		if next.Before(s.now()) {
			next = s.nextTick(s.now())
		}

		s.logger.Debug().Time("next_slot", next).Msg("waiting for next slot")
		if err := sleep(ctx, next.Sub(s.now())); err != nil {
			return err
		}

		s.fire(ctx, tick, s.slotStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, slot time.Time) {
	start := time.Now()
	if err := tick(ctx, slot); err != nil {
		s.logger.Error().Err(err).Time("slot", slot).Msg("tick execution failed")
		return
	}
	s.logger.Info().Time("slot", slot).Dur("took", time.Since(start)).Msg("tick executed")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	slot := now.Truncate(s.opts.Interval)
	if !slot.After(now) {
		slot = slot.Add(s.opts.Interval)
	}
	return slot
}

func (s *Scheduler) slotStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

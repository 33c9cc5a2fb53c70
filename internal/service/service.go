package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-testing/internal/alerting"
	"price-testing/internal/analytics"
	"price-testing/internal/assignment"
	"price-testing/internal/metrics"
	"price-testing/internal/scheduler"
	"price-testing/internal/storage"
)

// ErrBusy is returned when another worker holds the lock for a test.
var ErrBusy = errors.New("test is being processed elsewhere")

// Options configure the service.
type Options struct {
	// LockKey namespaces the advisory locks. Zero disables locking.
	LockKey  int64
	Dedup    analytics.DedupKey
	Channels []string
	// Notify enables winner, automation and completion notifications.
	Notify bool
}

// Service orchestrates assignment, ingestion, analytics and automation over
// the stores.
type Service struct {
	scheduler *scheduler.Scheduler
	tests     storage.TestStore
	events    storage.EventStore
	logs      storage.LogStore
	locker    storage.AdvisoryLocker
	notifier  alerting.Notifier
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time

	mu        sync.Mutex
	announced map[string]string
}

// New constructs the service. The advisory locker is taken from tests when it
// implements storage.AdvisoryLocker.
func New(opts Options, sched *scheduler.Scheduler, tests storage.TestStore, events storage.EventStore, logs storage.LogStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := tests.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if opts.Dedup == "" {
		opts.Dedup = analytics.DedupByPath
	}

	return &Service{
		scheduler: sched,
		tests:     tests,
		events:    events,
		logs:      logs,
		locker:    locker,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		announced: make(map[string]string),
	}
}

// Run begins the scheduled automation sweep.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Sweep)
}

// Sweep completes expired tests and evaluates automation rules for every
// running test. Only one instance sweeps at a time.
func (s *Service) Sweep(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx, s.opts.LockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(start)) }()

	running, err := s.tests.ListRunningTests(ctx)
	if err != nil {
		return fmt.Errorf("list running tests: %w", err)
	}

	failed := 0
	for _, test := range running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := s.RunAutomation(ctx, test.ID)
		if err != nil {
			if errors.Is(err, ErrBusy) {
				continue
			}
			failed++
			s.logger.Error().Err(err).Str("test_id", test.ID).Msg("automation run failed")
			continue
		}
		if out.Changed() {
			s.logger.Info().Str("test_id", test.ID).Int("actions", len(out.Logs)).Msg("automation applied")
		}
	}

	s.logger.Info().Time("slot", slot).Int("tests", len(running)).Int("failed", failed).Msg("sweep finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d tests failed", failed, len(running))
	}
	return nil
}

// testLockKey places a per-test lock in the namespace of the sweep lock.
func (s *Service) testLockKey(testID string) int64 {
	if s.opts.LockKey == 0 {
		return 0
	}
	return s.opts.LockKey<<32 | int64(uint32(assignment.Hash32(testID)))
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if !s.opts.Notify || s.notifier == nil {
		return
	}
	note.Channels = s.opts.Channels
	if note.At.IsZero() {
		note.At = s.now()
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("test_id", note.TestID).Str("kind", string(note.Kind)).Msg("failed to dispatch notification")
	}
}

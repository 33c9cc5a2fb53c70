package service

import (
	"context"
	"errors"
	"fmt"

	"price-testing/internal/alerting"
	"price-testing/internal/analytics"
	"price-testing/internal/automation"
	"price-testing/internal/experiment"
	"price-testing/internal/metrics"
	"price-testing/internal/stats"
	"price-testing/internal/storage"
)

// maxWriteAttempts bounds re-reads after a version conflict.
const maxWriteAttempts = 3

// AuditLogLimit is the number of automation log entries returned per test.
const AuditLogLimit = 50

// RunAutomation evaluates the rules of one test under its advisory lock and
// persists the result. Expired running tests are completed instead.
func (s *Service) RunAutomation(ctx context.Context, testID string) (automation.Outcome, error) {
	unlock, proceed, err := s.acquireLock(ctx, s.testLockKey(testID))
	if err != nil {
		return automation.Outcome{}, err
	}
	if !proceed {
		return automation.Outcome{}, ErrBusy
	}
	if unlock != nil {
		defer unlock()
	}

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		out, err := s.runAutomation(ctx, testID)
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Warn().Str("test_id", testID).Int("attempt", attempt).Msg("test changed during automation, retrying")
			continue
		}
		return out, err
	}
	return automation.Outcome{}, fmt.Errorf("automation for test %s: %w", testID, storage.ErrConflict)
}

func (s *Service) runAutomation(ctx context.Context, testID string) (automation.Outcome, error) {
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return automation.Outcome{}, err
	}
	now := s.now()

	if completed, ok := test.Complete(now); ok {
		saved, err := s.tests.UpdateTest(ctx, completed)
		if err != nil {
			return automation.Outcome{}, fmt.Errorf("complete test: %w", err)
		}
		metrics.RecordCompletion()
		s.logger.Info().Str("test_id", testID).Msg("test completed after its duration elapsed")
		s.notify(ctx, alerting.Notification{Kind: alerting.KindCompleted, TestID: saved.ID, TestName: saved.Name, At: now})
		return automation.Outcome{Test: saved}, nil
	}

	events, err := s.events.ListEvents(ctx, testID, activeSince(test), now)
	if err != nil {
		return automation.Outcome{}, err
	}
	perf := analytics.Aggregate(events, &test, analytics.Options{Dedup: s.opts.Dedup})
	s.announceWinner(ctx, test, perf)

	out := automation.Process(test, perf, now)
	for _, r := range out.Results {
		if r.Err != nil {
			s.logger.Warn().Err(r.Err).Str("test_id", testID).Str("rule_id", r.RuleID).Msg("automation rule failed")
		}
	}
	if !out.Changed() {
		recordRules(out)
		return out, nil
	}

	saved, err := s.tests.UpdateTest(ctx, out.Test)
	if err != nil {
		return automation.Outcome{}, err
	}
	out.Test = saved
	recordRules(out)

	if err := s.logs.InsertLogs(ctx, out.Logs); err != nil {
		s.logger.Error().Err(err).Str("test_id", testID).Msg("failed to persist automation logs")
	}

	actions := make([]string, 0, len(out.Logs))
	for _, l := range out.Logs {
		actions = append(actions, describeAction(l))
	}
	s.notify(ctx, alerting.Notification{Kind: alerting.KindAutomation, TestID: saved.ID, TestName: saved.Name, At: now, Actions: actions})
	return out, nil
}

// AutomationLogs returns the latest audit entries for a test.
func (s *Service) AutomationLogs(ctx context.Context, testID string) ([]automation.LogEntry, error) {
	if _, err := s.tests.GetTest(ctx, testID); err != nil {
		return nil, err
	}
	return s.logs.ListLogs(ctx, testID, AuditLogLimit)
}

// announceWinner notifies once per test and winner when the significance
// engine first reports one.
func (s *Service) announceWinner(ctx context.Context, test experiment.Test, perf []analytics.VariationPerformance) {
	if !s.opts.Notify || s.notifier == nil {
		return
	}
	control, ok := test.Control()
	if !ok {
		return
	}
	a := stats.CalculateSignificance(perf, control.Label)
	if !a.HasWinner() {
		return
	}

	s.mu.Lock()
	seen := s.announced[test.ID] == a.Winner
	s.announced[test.ID] = a.Winner
	s.mu.Unlock()
	if seen {
		return
	}

	s.notify(ctx, alerting.Notification{
		Kind:       alerting.KindWinner,
		TestID:     test.ID,
		TestName:   test.Name,
		Winner:     a.Winner,
		Lift:       a.Lift,
		Confidence: a.Confidence,
		Details:    a.Recommendation,
	})
}

func recordRules(out automation.Outcome) {
	executed, failed := out.Executed(), out.Failed()
	metrics.RecordRules(executed, len(out.Results)-executed-failed, failed)
}

func describeAction(l automation.LogEntry) string {
	if v, ok := l.Details["variation"]; ok {
		return fmt.Sprintf("%s %v", l.Action, v)
	}
	return string(l.Action)
}

package experiment

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned for lifecycle moves the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusDraft:   {StatusRunning},
	StatusRunning: {StatusPaused, StatusStopped, StatusCompleted},
	StatusPaused:  {StatusRunning, StatusStopped},
}

// DurationDays returns the configured lifetime in days.
func (t *Test) DurationDays() int {
	if t.Duration <= 0 {
		return DefaultDurationDays
	}
	if t.DurationUnit == UnitWeeks {
		return t.Duration * 7
	}
	return t.Duration
}

// EndsAt returns when a running test completes. Tests that never started
// have no end.
func (t *Test) EndsAt() (time.Time, bool) {
	if t.StartedAt == nil {
		return time.Time{}, false
	}
	return t.StartedAt.AddDate(0, 0, t.DurationDays()), true
}

// Expired reports whether a running test has reached its end.
func (t *Test) Expired(now time.Time) bool {
	if t.Status != StatusRunning {
		return false
	}
	end, ok := t.EndsAt()
	return ok && !now.Before(end)
}

// Transition returns a copy of the test moved to status to.
func (t Test) Transition(to Status, now time.Time) (Test, error) {
	allowed := false
	for _, s := range transitions[t.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	next := t.Clone()
	switch to {
	case StatusRunning:
		if t.Status == StatusDraft {
			if err := t.ValidateForLaunch(); err != nil {
				return t, err
			}
			started := now.UTC()
			next.StartedAt = &started
		}
	case StatusCompleted:
		completed := now.UTC()
		next.CompletedAt = &completed
	}
	next.Status = to
	return next, nil
}

// Complete moves an expired running test to Completed. ok is false when the
// test has not reached its end yet.
func (t Test) Complete(now time.Time) (Test, bool) {
	if !t.Expired(now) {
		return t, false
	}
	next, err := t.Transition(StatusCompleted, now)
	if err != nil {
		return t, false
	}
	return next, true
}

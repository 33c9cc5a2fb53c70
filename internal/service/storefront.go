package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-testing/internal/assignment"
	"price-testing/internal/audience"
	"price-testing/internal/experiment"
	"price-testing/internal/metrics"
)

// ErrUnknownVariation is returned for events naming a variation the test
// does not have.
var ErrUnknownVariation = errors.New("unknown variation")

// ErrTestNotRunning is returned for events sent to a test that is not live.
var ErrTestNotRunning = errors.New("test is not running")

// Assignment is the storefront view of a visitor's price.
type Assignment struct {
	HasTest bool
	assignment.Result
}

// AssignVisitor finds the first running, eligible test for productID and
// buckets visitorID into it. country is only called when a candidate test
// targets countries.
func (s *Service) AssignVisitor(ctx context.Context, productID, visitorID string, rc audience.RequestContext, country func() string) (Assignment, error) {
	tests, err := s.tests.ListRunningTestsForProduct(ctx, productID)
	if err != nil {
		return Assignment{}, err
	}
	if len(tests) == 0 {
		metrics.RecordAssignment(metrics.OutcomeNoTest)
		return Assignment{}, nil
	}

	if country != nil && rc.Country == "" {
		for _, t := range tests {
			if len(t.Targeting.Countries) > 0 {
				rc.Country = country()
				break
			}
		}
	}

	test, ok := audience.FirstEligible(tests, rc)
	if !ok {
		metrics.RecordAssignment(metrics.OutcomeIneligible)
		return Assignment{}, nil
	}

	res := assignment.Resolve(visitorID, &test)
	if v, _, found := test.Variation(res.Variation); found {
		res.Price = PriceFor(v, productID)
	}
	if res.Fallback {
		metrics.RecordAssignment(metrics.OutcomeFallback)
	} else {
		metrics.RecordAssignment(metrics.OutcomeAssigned)
	}
	return Assignment{HasTest: true, Result: res}, nil
}

// PriceFor returns the variation's price for productID, falling back to its
// main price.
func PriceFor(v experiment.Variation, productID string) decimal.Decimal {
	if p, ok := v.Prices[productID]; ok {
		return p
	}
	return v.Price
}

// RecordEvent appends a visitor event after checking it names a live
// variation of an existing test.
func (s *Service) RecordEvent(ctx context.Context, event experiment.Event) (experiment.Event, error) {
	test, err := s.tests.GetTest(ctx, event.TestID)
	if err != nil {
		return experiment.Event{}, err
	}
	if test.Status != experiment.StatusRunning {
		return experiment.Event{}, fmt.Errorf("test %s is %s: %w", test.ID, test.Status, ErrTestNotRunning)
	}
	if _, _, ok := test.Variation(event.Variation); !ok {
		return experiment.Event{}, fmt.Errorf("variation %q: %w", event.Variation, ErrUnknownVariation)
	}
	if event.TS.IsZero() {
		event.TS = s.now()
	}
	return s.events.InsertEvent(ctx, event)
}

// Transition moves a test to another lifecycle status and persists it.
func (s *Service) Transition(ctx context.Context, testID string, to experiment.Status) (experiment.Test, error) {
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return experiment.Test{}, err
	}
	next, err := test.Transition(to, s.now())
	if err != nil {
		return experiment.Test{}, err
	}
	saved, err := s.tests.UpdateTest(ctx, next)
	if err != nil {
		return experiment.Test{}, err
	}
	s.logger.Info().Str("test_id", testID).Str("from", string(test.Status)).Str("to", string(to)).Msg("test status changed")
	return saved, nil
}

// CreateTest validates and stores a new Draft test, assigning ids where
// missing.
func (s *Service) CreateTest(ctx context.Context, test experiment.Test) (experiment.Test, error) {
	if err := test.Validate(); err != nil {
		return experiment.Test{}, err
	}
	if test.ID == "" {
		test.ID = uuid.NewString()
	}
	for i := range test.Automation.Rules {
		if test.Automation.Rules[i].ID == "" {
			test.Automation.Rules[i].ID = uuid.NewString()
		}
	}
	test.Status = experiment.StatusDraft
	if test.CreatedAt.IsZero() {
		test.CreatedAt = s.now()
	}
	test.StartedAt, test.CompletedAt = nil, nil
	return s.tests.CreateTest(ctx, test)
}

package automation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"price-testing/internal/analytics"
	"price-testing/internal/experiment"
	"price-testing/internal/stats"
)

// UnknownRuleError reports a condition or action kind the evaluator does not
// implement. It fails only the rule that carries it.
type UnknownRuleError struct {
	RuleID string
	Kind   string
	Type   string
}

func (e *UnknownRuleError) Error() string {
	return fmt.Sprintf("rule %s: unknown %s type %q", e.RuleID, e.Kind, e.Type)
}

// LogEntry is the audit record of one executed action.
type LogEntry struct {
	ID        string                `json:"id"`
	TestID    string                `json:"testId"`
	Action    experiment.ActionType `json:"action"`
	Details   map[string]any        `json:"details"`
	Timestamp time.Time             `json:"timestamp"`
}

// RuleResult reports what happened to one rule.
type RuleResult struct {
	RuleID   string                `json:"ruleId"`
	Executed bool                  `json:"executed"`
	Reason   string                `json:"reason,omitempty"`
	Action   experiment.ActionType `json:"action,omitempty"`
	Details  map[string]any        `json:"details,omitempty"`
	Err      error                 `json:"-"`
	Error    string                `json:"error,omitempty"`
}

// Outcome is the result of evaluating a test's rules. Test is the state after
// every executed action; the input test is never modified.
type Outcome struct {
	Test    experiment.Test `json:"-"`
	Results []RuleResult    `json:"results"`
	Logs    []LogEntry      `json:"logs"`
}

// Changed reports whether any action modified the test.
func (o Outcome) Changed() bool {
	return len(o.Logs) > 0
}

// Executed counts rules whose action ran.
func (o Outcome) Executed() int {
	n := 0
	for _, r := range o.Results {
		if r.Executed {
			n++
		}
	}
	return n
}

// Failed counts rules that returned an error.
func (o Outcome) Failed() int {
	n := 0
	for _, r := range o.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Process evaluates the automation rules of test against perf at now. Rules
// run in order and each sees the state left by the previous ones. Tests that
// are not running or have automation disabled yield an empty outcome.
func Process(test experiment.Test, perf []analytics.VariationPerformance, now time.Time) Outcome {
	out := Outcome{Test: test.Clone()}
	if test.Status != experiment.StatusRunning || !test.Automation.Enabled {
		return out
	}

	ev := &evaluator{perf: perf, now: now}
	out.Results = make([]RuleResult, 0, len(test.Automation.Rules))
	for _, rule := range test.Automation.Rules {
		res := RuleResult{RuleID: rule.ID}

		met, err := ev.conditionMet(rule, &out.Test)
		if err != nil {
			res.Err, res.Error = err, err.Error()
			out.Results = append(out.Results, res)
			continue
		}
		if !met {
			res.Reason = "Condition not met"
			out.Results = append(out.Results, res)
			continue
		}

		next, details, changed, err := ev.execute(rule, out.Test)
		res.Action = rule.Action.Type
		if err != nil {
			res.Err, res.Error = err, err.Error()
			out.Results = append(out.Results, res)
			continue
		}

		res.Executed = true
		res.Details = details
		out.Results = append(out.Results, res)
		out.Test = next
		if changed {
			out.Logs = append(out.Logs, LogEntry{
				ID:        uuid.NewString(),
				TestID:    test.ID,
				Action:    rule.Action.Type,
				Details:   details,
				Timestamp: now.UTC(),
			})
		}
	}
	return out
}

type evaluator struct {
	perf     []analytics.VariationPerformance
	now      time.Time
	analysis *stats.Analysis
}

func (ev *evaluator) significance() stats.Analysis {
	if ev.analysis == nil {
		control := ""
		for _, p := range ev.perf {
			if p.IsControl {
				control = p.Variation
				break
			}
		}
		a := stats.CalculateSignificance(ev.perf, control)
		ev.analysis = &a
	}
	return *ev.analysis
}

func missingPayload(ruleID, field string) error {
	return fmt.Errorf("rule %s: missing %s payload", ruleID, field)
}

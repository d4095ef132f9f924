// Package alerting evaluates threshold rules against aggregated metric
// windows and emits alert state transitions with hysteresis.
package alerting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidewatch/tidewatch/signal"
)

// Config holds evaluator settings.
type Config struct {
	// HysteresisWindows is the default number of consecutive non-breaching
	// windows required before a severity downgrade commits. Rules may
	// override it.
	HysteresisWindows int
}

// Evaluator owns all alert rule state. Evaluate is called once per closed
// aggregation window by a single goroutine; passes never overlap.
type Evaluator struct {
	cfg    Config
	rules  []signal.AlertRule
	logger *slog.Logger

	mu     sync.RWMutex
	states map[string]*ruleState
}

type ruleState struct {
	severity       signal.Severity
	unknown        bool
	lastTransition time.Time
	clearStreak    int // consecutive non-breaching windows while elevated
}

// New creates an evaluator for the given rules. Invalid rules are rejected
// by the caller beforehand via signal.AlertRule.Validate.
func New(cfg Config, rules []signal.AlertRule, logger *slog.Logger) *Evaluator {
	if cfg.HysteresisWindows < 1 {
		cfg.HysteresisWindows = 3
	}

	states := make(map[string]*ruleState, len(rules))
	for _, r := range rules {
		states[r.ID] = &ruleState{severity: signal.SeverityOK}
	}

	return &Evaluator{
		cfg:    cfg,
		rules:  rules,
		logger: logger.With("component", "alerting"),
		states: states,
	}
}

// Evaluate compares every rule against the window's snapshots and returns
// the committed transition events. Upgrades commit immediately; downgrades
// step one level per window once the hysteresis streak is satisfied.
// Transitions never skip a severity level: a jump records the intermediate
// transition too. A rule whose series produced no snapshot is marked unknown
// and holds its state.
func (e *Evaluator) Evaluate(snapshots []signal.Snapshot, now time.Time) []signal.AlertEvent {
	latest := make(map[string]signal.Snapshot, len(snapshots))
	for _, s := range snapshots {
		latest[s.Key] = s
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var events []signal.AlertEvent
	for _, rule := range e.rules {
		st := e.states[rule.ID]

		snap, ok := latest[rule.MetricKey]
		if !ok {
			if !st.unknown {
				e.logger.Warn("alert rule references unknown metric series",
					"rule", rule.ID, "metric_key", rule.MetricKey, "error", signal.ErrUnknownMetric)
			}
			st.unknown = true
			continue
		}
		st.unknown = false

		agg := rule.Aggregate
		if agg == "" {
			agg = signal.AggregateLast
		}
		value := snap.Value(agg)
		breaching := rule.Comparator.Apply(value, rule.Threshold)

		if breaching {
			st.clearStreak = 0
			// Upgrade commits immediately, stepping through the lattice.
			for st.severity < rule.Severity {
				events = append(events, e.transition(rule, st, st.severity+1, value, now))
			}
			continue
		}

		if st.severity == signal.SeverityOK {
			st.clearStreak = 0
			continue
		}

		st.clearStreak++
		if st.clearStreak >= e.hysteresisFor(rule) {
			events = append(events, e.transition(rule, st, st.severity-1, value, now))
		}
	}

	return events
}

func (e *Evaluator) hysteresisFor(rule signal.AlertRule) int {
	if rule.HysteresisWindows > 0 {
		return rule.HysteresisWindows
	}
	return e.cfg.HysteresisWindows
}

// transition commits a single-step severity change and returns its event.
// Caller holds e.mu.
func (e *Evaluator) transition(rule signal.AlertRule, st *ruleState, to signal.Severity, value float64, now time.Time) signal.AlertEvent {
	from := st.severity
	st.severity = to
	st.lastTransition = now

	e.logger.Info("alert state transition",
		"rule", rule.ID, "from", from, "to", to, "value", value, "threshold", rule.Threshold)

	return signal.AlertEvent{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		MetricKey: rule.MetricKey,
		From:      from,
		To:        to,
		Value:     value,
		Threshold: rule.Threshold,
		At:        now,
	}
}

// States returns a snapshot of the current state of every rule.
func (e *Evaluator) States() map[string]signal.AlertState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]signal.AlertState, len(e.states))
	for id, st := range e.states {
		out[id] = signal.AlertState{
			RuleID:         id,
			Severity:       st.severity,
			Unknown:        st.unknown,
			LastTransition: st.lastTransition,
		}
	}
	return out
}

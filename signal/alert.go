package signal

import (
	"fmt"
	"time"
)

// Severity is the alert severity lattice. Transitions step through adjacent
// levels; a jump from OK to Critical records the intermediate Warning
// transition as well.
type Severity int

const (
	SeverityOK Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityOK:
		return "ok"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Comparator is the comparison operator of an alert rule.
type Comparator string

const (
	CompareGT Comparator = ">"
	CompareGE Comparator = ">="
	CompareLT Comparator = "<"
	CompareLE Comparator = "<="
	CompareEQ Comparator = "=="
)

// Apply evaluates value against threshold.
func (c Comparator) Apply(value, threshold float64) bool {
	switch c {
	case CompareGT:
		return value > threshold
	case CompareGE:
		return value >= threshold
	case CompareLT:
		return value < threshold
	case CompareLE:
		return value <= threshold
	case CompareEQ:
		return value == threshold
	default:
		return false
	}
}

// Valid reports whether c is a recognized comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CompareGT, CompareGE, CompareLT, CompareLE, CompareEQ:
		return true
	default:
		return false
	}
}

// AlertRule is a threshold rule evaluated against the latest window snapshot
// of one metric series.
type AlertRule struct {
	ID                string     `json:"id"`
	MetricKey         string     `json:"metric_key"`
	Aggregate         Aggregate  `json:"aggregate,omitempty"`
	Threshold         float64    `json:"threshold"`
	Comparator        Comparator `json:"comparator"`
	Severity          Severity   `json:"severity"`
	HysteresisWindows int        `json:"hysteresis_windows,omitempty"`
}

// Validate checks the rule is well formed.
func (r AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("alert rule: id must not be empty")
	}
	if r.MetricKey == "" {
		return fmt.Errorf("alert rule %s: metric_key must not be empty", r.ID)
	}
	if !r.Comparator.Valid() {
		return fmt.Errorf("alert rule %s: unknown comparator %q", r.ID, r.Comparator)
	}
	if r.Severity != SeverityWarning && r.Severity != SeverityCritical {
		return fmt.Errorf("alert rule %s: severity must be warning or critical", r.ID)
	}
	if r.HysteresisWindows < 0 {
		return fmt.Errorf("alert rule %s: hysteresis_windows must not be negative", r.ID)
	}
	return nil
}

// AlertState is the current state of one rule. Mutated only by the evaluator.
type AlertState struct {
	RuleID         string    `json:"rule_id"`
	Severity       Severity  `json:"severity"`
	Unknown        bool      `json:"unknown"`
	LastTransition time.Time `json:"last_transition"`
}

// AlertEvent is emitted on every committed state transition, never on
// steady-state repetition.
type AlertEvent struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	MetricKey string    `json:"metric_key"`
	From      Severity  `json:"from"`
	To        Severity  `json:"to"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tidewatch/tidewatch/signal"
)

// ruleFile is the on-disk form of the alert rules file.
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	ID                string  `yaml:"id"`
	MetricKey         string  `yaml:"metric_key"`
	Aggregate         string  `yaml:"aggregate"`
	Threshold         float64 `yaml:"threshold"`
	Comparator        string  `yaml:"comparator"`
	Severity          string  `yaml:"severity"`
	HysteresisWindows int     `yaml:"hysteresis_windows"`
}

// LoadRules parses and validates the alert rules file at path.
func LoadRules(path string) ([]signal.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	rules := make([]signal.AlertRule, 0, len(file.Rules))
	for i, spec := range file.Rules {
		severity, err := parseSeverity(spec.Severity)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		rule := signal.AlertRule{
			ID:                spec.ID,
			MetricKey:         spec.MetricKey,
			Aggregate:         signal.Aggregate(spec.Aggregate),
			Threshold:         spec.Threshold,
			Comparator:        signal.Comparator(spec.Comparator),
			Severity:          severity,
			HysteresisWindows: spec.HysteresisWindows,
		}
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseSeverity(s string) (signal.Severity, error) {
	switch s {
	case "warning":
		return signal.SeverityWarning, nil
	case "critical":
		return signal.SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q (want warning or critical)", s)
	}
}

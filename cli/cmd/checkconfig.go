package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tidewatch/tidewatch/cli/internal/output"
	"github.com/tidewatch/tidewatch/pkg/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and alert rules without starting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			output.Error("config invalid: %v", err)
			return err
		}

		w := output.NewWriter(format)

		if format == "json" || format == "yaml" {
			if err := w.Print(cfg); err != nil {
				return err
			}
		} else {
			table := output.Table{
				Headers: []string{"SETTING", "VALUE"},
				Rows: [][]string{
					{"environment", cfg.Environment},
					{"http_port", strconv.Itoa(cfg.HTTPPort)},
					{"window_interval", cfg.WindowInterval.String()},
					{"buffer_capacity", strconv.Itoa(cfg.BufferCapacity)},
					{"backpressure_policy", cfg.BackpressurePolicy},
					{"trace_timeout", cfg.TraceTimeout.String()},
					{"alert_hysteresis_windows", strconv.Itoa(cfg.AlertHysteresisWindows)},
					{"dead_letter_backend", cfg.DeadLetter.Backend},
				},
			}
			if err := w.Print(table); err != nil {
				return err
			}
		}

		if cfg.RulesPath != "" {
			rules, err := config.LoadRules(cfg.RulesPath)
			if err != nil {
				output.Error("alert rules invalid: %v", err)
				return err
			}
			output.Info("%d alert rule(s) loaded from %s", len(rules), cfg.RulesPath)

			if format == "" || format == "table" {
				table := output.Table{Headers: []string{"RULE", "METRIC", "CONDITION", "SEVERITY"}}
				for _, r := range rules {
					table.Rows = append(table.Rows, []string{
						r.ID,
						r.MetricKey,
						fmt.Sprintf("%s(%s) %s %g", r.Aggregate, r.MetricKey, r.Comparator, r.Threshold),
						r.Severity.String(),
					})
				}
				if err := w.Print(table); err != nil {
					return err
				}
			}
		}

		output.Success("configuration valid")
		return nil
	},
}

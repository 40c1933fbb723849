package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"konsolai/internal/konsolaiconfig"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show or set the default budget/resource-gate thresholds",
	}
	cmd.AddCommand(newBudgetShowCmd(), newBudgetSetCmd())
	return cmd
}

func newBudgetShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configured budget defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}
			b := appCtx.Config.Budget
			fmt.Fprintf(cmd.OutOrStdout(), "warning_threshold_percent: %d\n", b.WarningThresholdPercent)
			fmt.Fprintf(cmd.OutOrStdout(), "cpu_threshold_percent: %.1f\n", b.CPUThresholdPercent)
			fmt.Fprintf(cmd.OutOrStdout(), "cpu_debounce_count: %d\n", b.CPUDebounceCount)
			fmt.Fprintf(cmd.OutOrStdout(), "rss_threshold_bytes: %d\n", b.RSSThresholdBytes)
			return nil
		},
	}
}

func newBudgetSetCmd() *cobra.Command {
	var warningThreshold int
	var cpuThreshold float64
	var cpuDebounce int
	var rssThreshold uint64

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update one or more budget defaults and persist them",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("warning-threshold") {
				appCtx.Config.Budget.WarningThresholdPercent = warningThreshold
			}
			if cmd.Flags().Changed("cpu-threshold") {
				appCtx.Config.Budget.CPUThresholdPercent = cpuThreshold
			}
			if cmd.Flags().Changed("cpu-debounce") {
				appCtx.Config.Budget.CPUDebounceCount = cpuDebounce
			}
			if cmd.Flags().Changed("rss-threshold") {
				appCtx.Config.Budget.RSSThresholdBytes = rssThreshold
			}

			if err := konsolaiconfig.Save(appCtx.Config); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "budget defaults updated")
			return nil
		},
	}

	cmd.Flags().IntVar(&warningThreshold, "warning-threshold", 0, "Warning threshold percent (of any budget dimension)")
	cmd.Flags().Float64Var(&cpuThreshold, "cpu-threshold", 0, "CPU resource-gate threshold percent")
	cmd.Flags().IntVar(&cpuDebounce, "cpu-debounce", 0, "Consecutive samples above threshold before the resource gate trips")
	cmd.Flags().Uint64Var(&rssThreshold, "rss-threshold", 0, "RSS resource-gate threshold in bytes (0 = automatic default)")
	return cmd
}

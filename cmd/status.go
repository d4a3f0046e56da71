package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/contact-intel/internal/monitoring"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system health metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := monitoring.NewCollector(env.Store).Collect(cmd.Context(), cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		fmt.Printf("patterns: %d total (%d discovered, %d testing, %d validated, %d deprecated, %d archived)\n",
			snap.PatternsTotal, snap.PatternsDiscovered, snap.PatternsTesting,
			snap.PatternsValidated, snap.PatternsDeprecated, snap.PatternsArchived)
		fmt.Printf("discovery: %d new in last %dh (%.1f/day)\n",
			snap.NewPatterns, snap.LookbackHours, snap.DiscoveryRatePerDay)
		fmt.Printf("validation: %d running, %.0f%% success over %d verdicts\n",
			snap.ExperimentsRunning, snap.ValidationSuccessRate*100, snap.ValidationConcluded)
		fmt.Printf("sessions: %d in window, %d finalized, contact rate %.0f%%\n",
			snap.SessionsTotal, snap.SessionsFinalized, snap.ContactRate*100)
		fmt.Printf("learning: %d active users, avg confidence %.2f, feedback backlog %d\n",
			snap.ActiveUsers, snap.AvgLearningConfidence, snap.FeedbackBacklog)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(statusCmd)
}

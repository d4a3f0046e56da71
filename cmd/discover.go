package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/contact-intel/internal/discovery"
)

var (
	discoverLookbackDays int
	discoverUserID       string
	discoverEmergency    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one pattern discovery pass over recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		if discoverEmergency {
			env.Scheduler.EmergencyPass(ctx)
			fmt.Println("emergency pass complete")
			return nil
		}

		res, err := env.Engine.DiscoverPatterns(ctx, discovery.Options{
			LookbackDays: discoverLookbackDays,
			UserID:       discoverUserID,
		})
		if err != nil {
			return err
		}

		fmt.Printf("window: %s .. %s\n", res.WindowStart.Format("2006-01-02"), res.WindowEnd.Format("2006-01-02"))
		fmt.Printf("users processed: %d (failed: %d)\n", res.UnitsProcessed, res.UnitsFailed)
		fmt.Printf("patterns emitted: %d, merged into existing: %d\n", res.Emitted, res.Merged)
		return nil
	},
}

func init() {
	discoverCmd.Flags().IntVar(&discoverLookbackDays, "lookback-days", 0, "session window (default from config)")
	discoverCmd.Flags().StringVar(&discoverUserID, "user", "", "restrict the run to one user")
	discoverCmd.Flags().BoolVar(&discoverEmergency, "emergency", false, "immediate short-window pass including feedback and validation sweeps")
	rootCmd.AddCommand(discoverCmd)
}

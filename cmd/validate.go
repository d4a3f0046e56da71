package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Manage pattern validation experiments",
}

var validateStartCmd = &cobra.Command{
	Use:   "start <pattern-id>",
	Short: "Start a validation experiment for a discovered pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "validate")
		if err != nil {
			return err
		}
		defer env.Close()

		exp, err := env.Validator.StartValidation(ctx, args[0], cfg.Validation)
		if err != nil {
			return err
		}

		fmt.Printf("experiment %s started for pattern %s\n", exp.ID, exp.PatternID)
		fmt.Printf("control: %d users, treatment: %d users, duration: %d days\n",
			len(exp.ControlGroup), len(exp.TreatmentGroup), exp.Config.DurationDays)
		return nil
	},
}

var validateSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Refresh metrics and conclude experiments that earned a verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "validate")
		if err != nil {
			return err
		}
		defer env.Close()

		env.Scheduler.RunValidationSweep(ctx)
		return nil
	},
}

var validateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running experiments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "validate")
		if err != nil {
			return err
		}
		defer env.Close()

		running, err := env.Store.ListRunningExperiments(ctx)
		if err != nil {
			return err
		}
		if len(running) == 0 {
			fmt.Println("no running experiments")
			return nil
		}

		if validateStatusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(running)
		}

		now := time.Now().UTC()
		for i := range running {
			e := &running[i]
			fmt.Printf("%s  pattern=%s  control=%d  treatment=%d  days_remaining=%d\n",
				e.ID, e.PatternID, len(e.ControlGroup), len(e.TreatmentGroup),
				e.DaysRemaining(now))
		}
		return nil
	},
}

var validateStatusJSON bool

func init() {
	validateStatusCmd.Flags().BoolVar(&validateStatusJSON, "json", false, "emit JSON")
	validateCmd.AddCommand(validateStartCmd, validateSweepCmd, validateStatusCmd)
	rootCmd.AddCommand(validateCmd)
}

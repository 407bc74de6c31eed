package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete aged data-correction records",
	Long:  "Removes data_correction history records older than the retention window. All other change types are kept forever.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		days := cleanupDays
		if days == 0 {
			days = cfg.Schedule.CleanupRetentionDays
		}

		deleted, err := env.Recorder.CleanupOldRecords(cmd.Context(), days)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d correction records older than %d days\n", deleted, days)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention window (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show change detection statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Recorder.ChangeStatistics(cmd.Context(), statsDays)
		if err != nil {
			return err
		}

		color.Cyan("Change history, last %d days (since %s)",
			stats.Days, stats.WindowStart(time.Now()).Format("2006-01-02"))
		fmt.Printf("Total changes:   %d\n", stats.TotalChanges)
		fmt.Printf("Bills affected:  %d\n", stats.BillsAffected)
		fmt.Printf("Avg confidence:  %.3f\n", stats.AvgConfidence)
		fmt.Printf("Changes per day: %.1f\n", stats.ChangesPerDay)
		fmt.Println()

		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"Change Type", "Count"})
		var rows [][]string
		for ct, n := range stats.ByChangeType {
			rows = append(rows, []string{string(ct), strconv.Itoa(n)})
		}
		if err := table.Bulk(rows); err != nil {
			return err
		}
		if err := table.Render(); err != nil {
			return err
		}

		if len(stats.ByEventType) > 0 {
			fmt.Println()
			events := tablewriter.NewWriter(os.Stdout)
			events.Header([]string{"Event Type", "Count"})
			var eventRows [][]string
			for et, n := range stats.ByEventType {
				eventRows = append(eventRows, []string{string(et), strconv.Itoa(n)})
			}
			if err := events.Bulk(eventRows); err != nil {
				return err
			}
			return events.Render()
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsDays, "days", 30, "trailing window in days")
	rootCmd.AddCommand(statsCmd)
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/recorder"
)

var (
	recordMode  string
	recordBills []string
	recordSince string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run one change detection pass over tracked bills",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := recorder.Options{Mode: model.DetectionMode(recordMode)}
		switch opts.Mode {
		case model.ModeFullScan, model.ModeIncremental:
		case model.ModeTargeted:
			if len(recordBills) == 0 {
				return eris.New("targeted mode requires --bills")
			}
			opts.BillIDs = recordBills
		default:
			return eris.Errorf("unknown detection mode: %s", recordMode)
		}
		if recordSince != "" {
			since, err := time.Parse(time.RFC3339, recordSince)
			if err != nil {
				return eris.Wrap(err, "parse --since")
			}
			opts.Since = &since
		}

		result, err := env.Recorder.DetectAndRecord(ctx, opts)
		if err != nil {
			return err
		}

		fmt.Printf("Mode:            %s\n", result.Mode)
		fmt.Printf("Bills checked:   %d\n", result.TotalBillsChecked)
		fmt.Printf("Changes found:   %d\n", result.ChangesDetected)
		fmt.Printf("Records created: %d\n", result.HistoryRecordsCreated)
		fmt.Printf("Elapsed:         %s\n", result.ProcessingTime.Round(time.Millisecond))
		for sig, n := range result.ChangesBySignificance {
			fmt.Printf("  %s: %d\n", sig, n)
		}
		if len(result.Errors) > 0 {
			color.Red("Errors (%d):", len(result.Errors))
			for _, e := range result.Errors {
				color.Red("  %s", e)
			}
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordMode, "mode", "incremental", "detection mode: full_scan, incremental, targeted")
	recordCmd.Flags().StringSliceVar(&recordBills, "bills", nil, "bill IDs for targeted mode")
	recordCmd.Flags().StringVar(&recordSince, "since", "", "override incremental window start (RFC3339)")
	rootCmd.AddCommand(recordCmd)
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kokkai-watch/diet-tracker/internal/config"
	"github.com/kokkai-watch/diet-tracker/internal/model"
)

var (
	ingestMeetingID string
	ingestDate      string
	ingestSession   int
	ingestForce     string
	ingestPriority  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest Diet meeting records",
	Long:  "Routes the request to the NDL Kokkai API or the speech-to-text pipeline based on meeting date and session, with automatic fallback where available.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		req := model.IngestionRequest{
			MeetingID:   ingestMeetingID,
			DietSession: ingestSession,
			Priority:    model.IngestionPriority(ingestPriority),
		}
		if ingestDate != "" {
			d, err := config.ParseDate(ingestDate)
			if err != nil {
				return err
			}
			req.MeetingDate = &d
		}
		switch ingestForce {
		case "":
		case string(model.SourceNDLAPI), string(model.SourceWhisperSTT):
			req.ForceSource = model.DataSource(ingestForce)
		default:
			return eris.Errorf("unknown source: %s", ingestForce)
		}

		result, err := env.Executor.Execute(ctx, req)
		if err != nil {
			return err
		}

		fmt.Printf("Source:    %s\n", result.DataSource)
		fmt.Printf("Meetings:  %d\n", result.MeetingCount)
		fmt.Printf("Speeches:  %d\n", result.SpeechCount)
		fmt.Printf("Elapsed:   %.1fs\n", result.ProcessingSecs)
		if result.FallbackUsed {
			color.Yellow("Fallback source was used")
		}
		for _, w := range result.Warnings {
			color.Yellow("warning: %s", w)
		}
		if !result.Success {
			for _, e := range result.Errors {
				color.Red("error: %s", e)
			}
			return eris.New("ingestion failed")
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMeetingID, "meeting-id", "", "specific meeting (NDL issue ID or stream ID)")
	ingestCmd.Flags().StringVar(&ingestDate, "date", "", "meeting date (YYYY-MM-DD)")
	ingestCmd.Flags().IntVar(&ingestSession, "session", 0, "Diet session number for backfill")
	ingestCmd.Flags().StringVar(&ingestForce, "source", "", "force data source: ndl_api or whisper_stt")
	ingestCmd.Flags().StringVar(&ingestPriority, "priority", string(model.PriorityNormal), "request priority")
	rootCmd.AddCommand(ingestCmd)
}

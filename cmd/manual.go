package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

var (
	manualBill    string
	manualField   string
	manualOld     string
	manualNew     string
	manualType    string
	manualSummary string
	manualUser    string
)

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Record a manually verified bill change",
	Long:  "Appends one operator-entered history record with full confidence. Use for corrections and changes detected outside the automated pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if manualBill == "" || manualField == "" || manualSummary == "" {
			return eris.New("--bill, --field, and --summary are required")
		}
		if manualUser == "" {
			return eris.New("--user is required for the audit trail")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		var oldVal, newVal *string
		if cmd.Flags().Changed("old") {
			oldVal = &manualOld
		}
		if cmd.Flags().Changed("new") {
			newVal = &manualNew
		}

		rec, err := env.Recorder.RecordManualChange(cmd.Context(),
			manualBill, manualField, oldVal, newVal,
			model.ChangeType(manualType), manualSummary, manualUser)
		if err != nil {
			return err
		}

		fmt.Printf("Recorded %s for bill %s (record %s)\n", rec.EventType, rec.BillID, rec.ID)
		return nil
	},
}

func init() {
	manualCmd.Flags().StringVar(&manualBill, "bill", "", "bill ID")
	manualCmd.Flags().StringVar(&manualField, "field", "", "changed field name")
	manualCmd.Flags().StringVar(&manualOld, "old", "", "previous value (omit for newly added data)")
	manualCmd.Flags().StringVar(&manualNew, "new", "", "new value (omit for removed data)")
	manualCmd.Flags().StringVar(&manualType, "type", string(model.ChangeCorrection), "change type")
	manualCmd.Flags().StringVar(&manualSummary, "summary", "", "human-readable change summary")
	manualCmd.Flags().StringVar(&manualUser, "user", "", "operator user ID")
	rootCmd.AddCommand(manualCmd)
}

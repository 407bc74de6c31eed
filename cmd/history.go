package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/store"
)

var (
	historyBill   string
	historyType   string
	historySource string
	historyLimit  int
	historyAsc    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the bill change history",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		records, err := env.Store.QueryRecords(cmd.Context(), store.HistoryFilter{
			BillID:       historyBill,
			ChangeType:   model.ChangeType(historyType),
			SourceSystem: historySource,
			Ascending:    historyAsc,
			Limit:        historyLimit,
		})
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"Recorded", "Bill", "Event", "Confidence", "Summary"})
		var rows [][]string
		for _, rec := range records {
			rows = append(rows, []string{
				rec.RecordedAt.Format("2006-01-02 15:04"),
				rec.BillID,
				string(rec.EventType),
				fmt.Sprintf("%.2f", rec.ConfidenceScore),
				rec.ChangeSummary,
			})
		}
		if err := table.Bulk(rows); err != nil {
			return err
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Printf("%d records\n", len(records))
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyBill, "bill", "", "filter by bill ID")
	historyCmd.Flags().StringVar(&historyType, "type", "", "filter by change type")
	historyCmd.Flags().StringVar(&historySource, "source", "", "filter by source system")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "max records")
	historyCmd.Flags().BoolVar(&historyAsc, "asc", false, "oldest first")
	rootCmd.AddCommand(historyCmd)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kokkai-watch/diet-tracker/internal/config"
	"github.com/kokkai-watch/diet-tracker/internal/model"
)

var (
	routeDate    string
	routeSession int
	routeForce   string
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show the routing decision for a request without ingesting",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := initRouter()
		if err != nil {
			return err
		}

		req := model.IngestionRequest{
			DietSession: routeSession,
			ForceSource: model.DataSource(routeForce),
		}
		if routeDate != "" {
			d, err := config.ParseDate(routeDate)
			if err != nil {
				return err
			}
			req.MeetingDate = &d
		}

		decision := engine.Decide(req)
		fmt.Printf("Source:     %s\n", decision.DataSource)
		fmt.Printf("Rationale:  %s\n", decision.Rationale)
		fmt.Printf("Confidence: %.2f\n", decision.Confidence)
		fmt.Printf("Fallback:   %t\n", decision.FallbackAvailable)
		if decision.ManualOverride {
			fmt.Println("Manual override in effect")
		}
		return nil
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeDate, "date", "", "meeting date (YYYY-MM-DD)")
	routeCmd.Flags().IntVar(&routeSession, "session", 0, "Diet session number")
	routeCmd.Flags().StringVar(&routeForce, "source", "", "force data source")
	rootCmd.AddCommand(routeCmd)
}

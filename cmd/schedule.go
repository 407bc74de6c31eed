package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the change detection scheduler in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scheduler.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		zap.L().Info("shutting down scheduler")
		env.Scheduler.Stop()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}

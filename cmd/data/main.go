package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"propertysearch/server/config"
	"propertysearch/server/internal/app"
	"propertysearch/server/internal/logging"
	"propertysearch/server/internal/pipeline"
)

var rootCmd = &cobra.Command{
	Use:           "propertysearch-data",
	Short:         "Refresh the property search datasets",
	Long:          `Run the batch tasks that fetch tube stations and recompute property statistics around them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var updatePropertyCmd = &cobra.Command{
	Use:   "update-property",
	Short: "Recompute property summaries around every tube station",
	RunE:  runTask(pipeline.TaskUpdateProperty),
}

var updateTubeCmd = &cobra.Command{
	Use:   "update-tube",
	Short: "Fetch the tube station list from TfL",
	RunE:  runTask(pipeline.TaskUpdateTube),
}

var strictLocations bool

func init() {
	updatePropertyCmd.Flags().BoolVar(&strictLocations, "strict-locations", false, "Abort when a station cannot be resolved")

	rootCmd.AddCommand(updatePropertyCmd)
	rootCmd.AddCommand(updateTubeCmd)
}

func runTask(task pipeline.Task) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if strictLocations {
			cfg.Pipeline.StrictLocations = true
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Runner.Run(ctx, task)
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithError(err).Error("Task failed")
		os.Exit(1)
	}
}

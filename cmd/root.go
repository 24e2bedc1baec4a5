// Package cmd defines the CLI commands for the arcgis-harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-harvester/internal/config"
	"github.com/JakeFAU/arcgis-harvester/internal/logging"
)

// appKeyType is the key for storing the runtime in the command context.
type appKeyType string

const appKey appKeyType = "app"

// runtime carries what every subcommand needs once flags are parsed.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "arcgis-harvester",
		Short: "Archives every layer of an ArcGIS REST services directory as GeoJSON.",
		Long: `arcgis-harvester walks a public ArcGIS REST services directory, downloads the
features of every FeatureServer and MapServer layer, reprojects them from Web Mercator
to longitude/latitude and files the resulting GeoJSON under per-category directories.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(appKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./harvest.yaml)")

	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newCategorizeCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(appKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

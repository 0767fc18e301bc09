package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
	"github.com/spf13/cobra"
)

var cmd = &cobra.Command{
	Use:          "coinbase-tracker",
	Long:         `Collects Bitcoin coinbase outputs and the spends that consume them into a local store`,
	SilenceUsage: true,
}

func init() {
	var configFile string

	// Add global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file, E.g. `./config.yaml`")
	flags.String("network", "mainnet", "network to collect, E.g. `mainnet` or `testnet`")

	// Bind flags to configuration
	config.BindPFlag("network", flags.Lookup("network"))

	// Initialize configuration and logger on start command
	cobra.OnInitialize(func() {
		config := config.Parse(configFile)

		if err := logger.Init(config.Logger); err != nil {
			logger.Panic("Failed to initialize logger", slogx.Error(err), slog.Any("config", config.Logger))
		}
	})
}

func Execute(ctx context.Context) {
	// Register sub-commands
	cmd.AddCommand(
		NewCollectCommand(),
		NewStatusCommand(),
		NewStatsCommand(),
		NewExportCommand(),
		NewMigrateCommand(),
		NewVersionCommand(),
	)

	// Execute command
	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

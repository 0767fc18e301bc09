package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/core/collector"
	"github.com/gaze-network/coinbase-tracker/core/datasources"
	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/internal/metrics"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const cleanupTimeout = 60 * time.Second

func NewCollectCommand() *cobra.Command {
	// Create command
	collectCmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the collector until it catches up with the chain tip",
		RunE:  collectHandler,
	}

	// Add local flags
	flags := collectCmd.Flags()
	flags.Int64("batch-size", 1000, "Number of block heights per batch")
	flags.String("storage", "sqlite", `Local store driver: "sqlite" or "postgres"`)

	// Bind flags to configuration
	config.BindPFlag("collector.batch_size", flags.Lookup("batch-size"))
	config.BindPFlag("storage.driver", flags.Lookup("storage"))

	return collectCmd
}

func collectHandler(cmd *cobra.Command, _ []string) error {
	conf := config.Load()

	// Validate inputs and configurations
	{
		if !conf.Network.IsSupported() {
			return errors.Wrapf(errs.Unsupported, "%q network is not supported", conf.Network.String())
		}
		if conf.ClickHouse.DSN == "" {
			return errors.Wrap(errs.InvalidArgument, "clickhouse.dsn is required")
		}
	}

	// Initialize application process context
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Add logger context
	ctx = logger.WithContext(ctx, slogx.Stringer("network", conf.Network))

	injector := do.New()
	do.ProvideValue(injector, conf)
	do.ProvideValue(injector, ctx)

	// Initialize ClickHouse datasource
	datasource, err := datasources.NewClickHouse(conf.ClickHouse.DSN, conf.ClickHouse.QueriesPerSecond)
	if err != nil {
		return errors.Wrap(err, "can't create ClickHouse datasource")
	}
	defer func() {
		if err := datasource.Close(); err != nil {
			logger.WarnContext(ctx, "Failed to close ClickHouse datasource", slogx.Error(err))
		}
	}()
	do.ProvideValue[datasources.Datasource](injector, datasource)

	// Initialize local store
	coinbaseDg, cleanupStore, err := coinbase.NewDataGateway(ctx, conf)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := cleanupStore(cleanupCtx); err != nil {
			logger.WarnContext(ctx, "Failed to close local store", slogx.Error(err))
		}
	}()
	do.ProvideValue(injector, coinbaseDg)

	// Initialize metrics
	do.Provide(injector, func(i do.Injector) (collector.Metrics, error) {
		conf := do.MustInvoke[config.Config](i)
		if !conf.Metrics.Enabled {
			return collector.NoopMetrics{}, nil
		}
		return metrics.NewCollector(conf.Network), nil
	})

	worker, err := coinbase.New(injector)
	if err != nil {
		return errors.Wrap(err, "can't init coinbase module")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if conf.Metrics.Enabled {
		group.Go(func() error {
			return metrics.Serve(groupCtx, conf.Metrics.ListenAddress)
		})
	}

	group.Go(func() error {
		// release the metrics server once collection finishes
		defer stop()

		logger.InfoContext(groupCtx, "Starting coinbase spend collector")
		return worker.Run(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return errors.WithStack(err)
	}

	logger.InfoContext(ctx, "Collector stopped")
	return nil
}

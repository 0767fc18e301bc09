package coinbase

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/core/collector"
	"github.com/gaze-network/coinbase-tracker/core/datasources"
	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/internal/postgres"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	coinbasepostgres "github.com/gaze-network/coinbase-tracker/modules/coinbase/repository/postgres"
	coinbasesqlite "github.com/gaze-network/coinbase-tracker/modules/coinbase/repository/sqlite"
	"github.com/samber/do/v2"
)

const Version = "v0.1.0"

// New wires a collection worker from the injected configuration, remote
// datasource, local store and metrics.
func New(injector do.Injector) (collector.Worker, error) {
	conf := do.MustInvoke[config.Config](injector)
	datasource := do.MustInvoke[datasources.Datasource](injector)
	coinbaseDg := do.MustInvoke[datagateway.CoinbaseSpendDataGateway](injector)
	collectorMetrics := do.MustInvoke[collector.Metrics](injector)

	processor := NewProcessor(conf, coinbaseDg)
	worker := collector.New(collector.Config{
		BatchSize:     conf.Collector.BatchSize,
		GenesisHeight: conf.Collector.GenesisHeight,
		MaxRetries:    conf.Collector.MaxRetries,
	}, datasource, processor, collectorMetrics)
	return worker, nil
}

// NewDataGateway opens the configured local store. The returned cleanup
// releases the underlying connections.
func NewDataGateway(ctx context.Context, conf config.Config) (datagateway.CoinbaseSpendDataGateway, func(context.Context) error, error) {
	switch strings.ToLower(conf.Storage.Driver) {
	case "sqlite":
		repo, err := coinbasesqlite.NewRepository(ctx, conf.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "can't create SQLite repository")
		}
		return repo, func(context.Context) error {
			return repo.Close()
		}, nil
	case "postgresql", "postgres", "pg":
		pg, err := postgres.NewPool(ctx, conf.Storage.Postgres)
		if err != nil {
			return nil, nil, errors.Wrap(err, "can't create Postgres connection pool")
		}
		repo := coinbasepostgres.NewRepository(pg)
		return repo, func(context.Context) error {
			pg.Close()
			return nil
		}, nil
	default:
		return nil, nil, errors.Wrapf(errs.Unsupported, "%q storage driver is not supported", conf.Storage.Driver)
	}
}

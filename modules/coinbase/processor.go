package coinbase

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/core/collector"
	"github.com/gaze-network/coinbase-tracker/core/types"
	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
)

// Make sure to implement the collector Processor interface
var _ collector.Processor[*entity.CoinbaseRecord] = (*Processor)(nil)

type Processor struct {
	config     config.Config
	coinbaseDg datagateway.CoinbaseSpendDataGateway
}

func NewProcessor(config config.Config, coinbaseDg datagateway.CoinbaseSpendDataGateway) *Processor {
	return &Processor{
		config:     config,
		coinbaseDg: coinbaseDg,
	}
}

func (p Processor) Name() string {
	return "coinbase"
}

func (p *Processor) LastProcessedHeight(ctx context.Context) (int64, error) {
	height, err := p.coinbaseDg.GetLastProcessedHeight(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return height, nil
}

func (p *Processor) MergeBatch(ctx context.Context, outputs []*types.CoinbaseOutput, spends []*types.SpendEvent) ([]*entity.CoinbaseRecord, error) {
	return MergeBatch(ctx, outputs, spends), nil
}

func (p *Processor) CommitBatch(ctx context.Context, from, until int64, records []*entity.CoinbaseRecord) error {
	if until <= from {
		return errors.Wrapf(errs.InvalidRange, "until (%d) must be greater than from (%d)", until, from)
	}

	current, err := p.coinbaseDg.GetLastProcessedHeight(ctx)
	if err != nil {
		if !errors.Is(err, errs.NotFound) {
			return errors.Wrap(err, "failed to get last processed height")
		}
		current = p.config.Collector.GenesisHeight - 1
	}

	// A replayed batch must not move the checkpoint backwards. The upsert is
	// idempotent, so an already committed range is skipped as a no-op.
	if until-1 <= current {
		logger.InfoContext(ctx, "Batch already committed, skipping",
			slogx.Int64("from", from),
			slogx.Int64("until", until),
			slogx.Int64("last_processed_height", current),
		)
		return nil
	}

	// check that the batch continues from the committed checkpoint
	// to prevent committing out-of-order batches or skipping a range
	if from != current+1 {
		return errors.Wrapf(errs.OrderingFault, "batch starts at height %d, expected %d", from, current+1)
	}

	if err := p.coinbaseDg.UpsertBatch(ctx, records, until-1); err != nil {
		return errors.Wrapf(err, "error during upsert batch, from: %d, until: %d", from, until)
	}

	return nil
}

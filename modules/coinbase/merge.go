package coinbase

import (
	"cmp"
	"context"
	"slices"

	"github.com/gaze-network/coinbase-tracker/core/types"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
	"github.com/samber/lo"
)

// MergeBatch joins one batch's coinbase creation rows with its spend rows
// into the records to upsert. Outputs without a spend keep a nil Spend.
// Source anomalies are logged and resolved deterministically, never fatal:
// duplicate creations keep the first row, duplicate spends keep the lowest
// spend height with ties broken by the smaller spend tx hash, and spends
// referencing an output missing from the batch are dropped.
func MergeBatch(ctx context.Context, outputs []*types.CoinbaseOutput, spends []*types.SpendEvent) []*entity.CoinbaseRecord {
	records := make(map[types.OutPoint]*entity.CoinbaseRecord, len(outputs))
	for _, output := range outputs {
		key := output.OutPoint()
		if _, ok := records[key]; ok {
			logger.WarnContext(ctx, "Duplicate coinbase output row from source, keeping first",
				slogx.Stringer("outpoint", key),
				slogx.Int64("height", output.BlockHeight),
			)
			continue
		}
		records[key] = &entity.CoinbaseRecord{
			TxHash:      output.TxHash,
			Index:       output.Index,
			Value:       output.Value,
			BlockHeight: output.BlockHeight,
			BlockTime:   output.BlockTime,
		}
	}

	for _, spend := range spends {
		key := spend.PreviousOutPoint()
		record, ok := records[key]
		if !ok {
			// A record with no creation fields must never be invented.
			logger.WarnContext(ctx, "Spend references no coinbase output in batch, dropping spend",
				slogx.Stringer("outpoint", key),
				slogx.String("spend_tx_hash", spend.TxHash),
				slogx.Int64("spend_height", spend.BlockHeight),
			)
			continue
		}
		if record.Spend != nil {
			// Keep the earliest spend by height, ties broken by tx hash, so
			// row order cannot change the outcome.
			dropped := *record.Spend
			keepExisting := spend.BlockHeight > record.Spend.BlockHeight ||
				(spend.BlockHeight == record.Spend.BlockHeight && spend.TxHash >= record.Spend.TxHash)
			if keepExisting {
				dropped = entity.SpendDetail{TxHash: spend.TxHash, BlockHeight: spend.BlockHeight, BlockTime: spend.BlockTime}
			} else {
				record.Spend = &entity.SpendDetail{TxHash: spend.TxHash, BlockHeight: spend.BlockHeight, BlockTime: spend.BlockTime}
			}
			logger.WarnContext(ctx, "Duplicate spend for coinbase output",
				slogx.Stringer("outpoint", key),
				slogx.String("kept_tx_hash", record.Spend.TxHash),
				slogx.Int64("kept_height", record.Spend.BlockHeight),
				slogx.String("dropped_tx_hash", dropped.TxHash),
				slogx.Int64("dropped_height", dropped.BlockHeight),
			)
			continue
		}
		record.Spend = &entity.SpendDetail{
			TxHash:      spend.TxHash,
			BlockHeight: spend.BlockHeight,
			BlockTime:   spend.BlockTime,
		}
	}

	merged := lo.Values(records)
	slices.SortFunc(merged, func(a, b *entity.CoinbaseRecord) int {
		if c := cmp.Compare(a.BlockHeight, b.BlockHeight); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TxHash, b.TxHash); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	return merged
}

package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
)

// ExportRow is one record flattened for export. Spend fields are zero
// values while Spent is false.
type ExportRow struct {
	TxHash           string
	Index            int32
	Value            int64
	BlockHeight      int64
	BlockTime        time.Time
	Spent            bool
	SpendTxHash      string
	SpendBlockHeight int64
	SpendBlockTime   time.Time
}

// ExportRecords streams matching records to fn in creation order.
func (u *Usecase) ExportRecords(ctx context.Context, filter datagateway.RecordFilter, fn func(row ExportRow) error) error {
	err := u.coinbaseDg.IterateRecords(ctx, filter, func(record *entity.CoinbaseRecord) error {
		row := ExportRow{
			TxHash:      record.TxHash,
			Index:       record.Index,
			Value:       record.Value,
			BlockHeight: record.BlockHeight,
			BlockTime:   record.BlockTime,
			Spent:       record.IsSpent(),
		}
		if record.Spend != nil {
			row.SpendTxHash = record.Spend.TxHash
			row.SpendBlockHeight = record.Spend.BlockHeight
			row.SpendBlockTime = record.Spend.BlockTime
		}
		return fn(row)
	})
	if err != nil {
		return errors.Wrap(err, "failed to iterate records")
	}
	return nil
}

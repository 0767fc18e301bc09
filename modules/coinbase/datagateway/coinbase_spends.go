package datagateway

import (
	"context"
	"time"

	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
)

type CoinbaseSpendDataGateway interface {
	CoinbaseSpendWriterDataGateway
	CoinbaseSpendReaderDataGateway
}

type CoinbaseSpendWriterDataGateway interface {
	// UpsertBatch persists a batch's records and advances the checkpoint to
	// newLastHeight as one atomic unit: either every record upsert and the
	// checkpoint write land together or none do. Existing records only ever
	// gain spend fields; creation fields and present spends are never
	// rewritten. Re-applying an already committed batch is a no-op.
	UpsertBatch(ctx context.Context, records []*entity.CoinbaseRecord, newLastHeight int64) error
}

type CoinbaseSpendReaderDataGateway interface {
	// GetLastProcessedHeight returns the committed checkpoint.
	// Returns errs.NotFound when no batch has ever been committed.
	GetLastProcessedHeight(ctx context.Context) (int64, error)

	// GetRecordsByHeightRange returns records created at heights in
	// [from, until), ordered by (height, tx hash, output index).
	GetRecordsByHeightRange(ctx context.Context, from, until int64) ([]*entity.CoinbaseRecord, error)

	// GetLatestRecord returns the record with the highest creation height.
	// Returns errs.NotFound when the store holds no records.
	GetLatestRecord(ctx context.Context) (*entity.CoinbaseRecord, error)

	// GetSpendStats summarizes outputs minted strictly before the cutoff.
	GetSpendStats(ctx context.Context, mintedBefore time.Time) (entity.SpendStats, error)

	// GetSpendCountsByPeriod buckets spends of outputs minted strictly
	// before the cutoff by the calendar period of the spend time.
	GetSpendCountsByPeriod(ctx context.Context, mintedBefore time.Time, period entity.Period) ([]*entity.PeriodCount, error)

	// IterateRecords streams matching records in creation order. Iteration
	// stops at the first error returned by fn.
	IterateRecords(ctx context.Context, filter RecordFilter, fn func(record *entity.CoinbaseRecord) error) error
}

// RecordFilter narrows record iteration. The zero value matches everything.
type RecordFilter struct {
	// MintedBefore keeps records created strictly before the cutoff.
	// The zero time disables the cutoff.
	MintedBefore time.Time

	// SpentOnly and UnspentOnly are mutually exclusive.
	SpentOnly   bool
	UnspentOnly bool
}

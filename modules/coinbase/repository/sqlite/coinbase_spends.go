package sqlite

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
)

const metadataKeyLastProcessedHeight = "last_processed_height"

const upsertRecord = `
INSERT INTO coinbase_spends (tx_hash, output_index, value, block_height, block_time, spend_tx_hash, spend_block_height, spend_block_time)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tx_hash, output_index) DO UPDATE SET
	spend_tx_hash = COALESCE(coinbase_spends.spend_tx_hash, excluded.spend_tx_hash),
	spend_block_height = COALESCE(coinbase_spends.spend_block_height, excluded.spend_block_height),
	spend_block_time = COALESCE(coinbase_spends.spend_block_time, excluded.spend_block_time)`

const upsertMetadata = `
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`

const selectRecordColumns = `tx_hash, output_index, value, block_height, block_time, spend_tx_hash, spend_block_height, spend_block_time`

func (r *Repository) UpsertBatch(ctx context.Context, records []*entity.CoinbaseRecord, newLastHeight int64) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				logger.WarnContext(ctx, "Failed to rollback transaction", slogx.Error(rollbackErr))
			}
		}
	}()

	for _, record := range records {
		var (
			spendTxHash      sql.NullString
			spendBlockHeight sql.NullInt64
			spendBlockTime   sql.NullString
		)
		if record.Spend != nil {
			spendTxHash = sql.NullString{String: record.Spend.TxHash, Valid: true}
			spendBlockHeight = sql.NullInt64{Int64: record.Spend.BlockHeight, Valid: true}
			spendBlockTime = sql.NullString{String: record.Spend.BlockTime.UTC().Format(time.RFC3339), Valid: true}
		}
		if _, err = tx.ExecContext(ctx, upsertRecord,
			record.TxHash,
			record.Index,
			record.Value,
			record.BlockHeight,
			record.BlockTime.UTC().Format(time.RFC3339),
			spendTxHash,
			spendBlockHeight,
			spendBlockTime,
		); err != nil {
			return errors.Wrapf(err, "failed to upsert record %s", record.OutPoint())
		}
	}

	if _, err = tx.ExecContext(ctx, upsertMetadata, metadataKeyLastProcessedHeight, strconv.FormatInt(newLastHeight, 10)); err != nil {
		return errors.Wrap(err, "failed to update last processed height")
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (r *Repository) GetLastProcessedHeight(ctx context.Context) (int64, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, metadataKeyLastProcessedHeight).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errors.WithStack(errs.NotFound)
		}
		return 0, errors.Wrap(err, "failed to query last processed height")
	}
	height, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed last processed height %q", raw)
	}
	return height, nil
}

func (r *Repository) GetRecordsByHeightRange(ctx context.Context, from, until int64) ([]*entity.CoinbaseRecord, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM coinbase_spends WHERE block_height >= ? AND block_height < ? ORDER BY block_height, tx_hash, output_index`
	rows, err := r.db.QueryContext(ctx, query, from, until)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query records by height range")
	}
	defer rows.Close()

	var records []*entity.CoinbaseRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return records, nil
}

func (r *Repository) GetLatestRecord(ctx context.Context) (*entity.CoinbaseRecord, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM coinbase_spends ORDER BY block_height DESC, tx_hash DESC, output_index DESC LIMIT 1`
	record, err := scanRecord(r.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithStack(errs.NotFound)
		}
		return nil, errors.Wrap(err, "failed to query latest record")
	}
	return record, nil
}

func (r *Repository) GetSpendStats(ctx context.Context, mintedBefore time.Time) (entity.SpendStats, error) {
	query := `
SELECT
	count(*),
	coalesce(sum(CASE WHEN spend_tx_hash IS NULL THEN 1 ELSE 0 END), 0),
	coalesce(sum(value), 0),
	coalesce(sum(CASE WHEN spend_tx_hash IS NULL THEN value ELSE 0 END), 0)
FROM coinbase_spends
WHERE block_time < ?`
	var stats entity.SpendStats
	err := r.db.QueryRowContext(ctx, query, mintedBefore.UTC().Format(time.RFC3339)).
		Scan(&stats.TotalOutputs, &stats.UnspentOutputs, &stats.TotalValue, &stats.UnspentValue)
	if err != nil {
		return entity.SpendStats{}, errors.Wrap(err, "failed to query spend stats")
	}
	return stats, nil
}

var periodFormats = map[entity.Period]string{
	entity.PeriodDay:   "%Y-%m-%d",
	entity.PeriodMonth: "%Y-%m",
	entity.PeriodYear:  "%Y",
}

func (r *Repository) GetSpendCountsByPeriod(ctx context.Context, mintedBefore time.Time, period entity.Period) ([]*entity.PeriodCount, error) {
	format, ok := periodFormats[period]
	if !ok {
		return nil, errors.Errorf("unsupported period %q", period)
	}

	query := `
SELECT strftime(?, spend_block_time) AS period, count(*)
FROM coinbase_spends
WHERE spend_tx_hash IS NOT NULL AND block_time < ?
GROUP BY period
ORDER BY period`
	rows, err := r.db.QueryContext(ctx, query, format, mintedBefore.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query spend counts")
	}
	defer rows.Close()

	var counts []*entity.PeriodCount
	for rows.Next() {
		var count entity.PeriodCount
		if err := rows.Scan(&count.Label, &count.Count); err != nil {
			return nil, errors.WithStack(err)
		}
		counts = append(counts, &count)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return counts, nil
}

func (r *Repository) IterateRecords(ctx context.Context, filter datagateway.RecordFilter, fn func(record *entity.CoinbaseRecord) error) error {
	if filter.SpentOnly && filter.UnspentOnly {
		return errors.New("spent-only and unspent-only filters are mutually exclusive")
	}

	var (
		conds []string
		args  []any
	)
	if !filter.MintedBefore.IsZero() {
		conds = append(conds, "block_time < ?")
		args = append(args, filter.MintedBefore.UTC().Format(time.RFC3339))
	}
	if filter.SpentOnly {
		conds = append(conds, "spend_tx_hash IS NOT NULL")
	}
	if filter.UnspentOnly {
		conds = append(conds, "spend_tx_hash IS NULL")
	}

	query := `SELECT ` + selectRecordColumns + ` FROM coinbase_spends`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY block_height, tx_hash, output_index`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to query records")
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return errors.WithStack(err)
		}
		if err := fn(record); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*entity.CoinbaseRecord, error) {
	var (
		record           entity.CoinbaseRecord
		blockTime        string
		spendTxHash      sql.NullString
		spendBlockHeight sql.NullInt64
		spendBlockTime   sql.NullString
	)
	if err := row.Scan(
		&record.TxHash,
		&record.Index,
		&record.Value,
		&record.BlockHeight,
		&blockTime,
		&spendTxHash,
		&spendBlockHeight,
		&spendBlockTime,
	); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(time.RFC3339, blockTime)
	if err != nil {
		return nil, errors.Wrapf(err, "malformed block time %q", blockTime)
	}
	record.BlockTime = parsed

	if spendTxHash.Valid {
		spendTime, err := time.Parse(time.RFC3339, spendBlockTime.String)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed spend block time %q", spendBlockTime.String)
		}
		record.Spend = &entity.SpendDetail{
			TxHash:      spendTxHash.String,
			BlockHeight: spendBlockHeight.Int64,
			BlockTime:   spendTime,
		}
	}
	return &record, nil
}

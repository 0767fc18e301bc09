package postgres

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
	"github.com/jackc/pgx/v5"
)

const metadataKeyLastProcessedHeight = "last_processed_height"

const upsertRecord = `
INSERT INTO coinbase_spends (tx_hash, output_index, value, block_height, block_time, spend_tx_hash, spend_block_height, spend_block_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tx_hash, output_index) DO UPDATE SET
	spend_tx_hash = COALESCE(coinbase_spends.spend_tx_hash, EXCLUDED.spend_tx_hash),
	spend_block_height = COALESCE(coinbase_spends.spend_block_height, EXCLUDED.spend_block_height),
	spend_block_time = COALESCE(coinbase_spends.spend_block_time, EXCLUDED.spend_block_time)`

const upsertMetadata = `
INSERT INTO metadata (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

const selectRecordColumns = `tx_hash, output_index, value, block_height, block_time, spend_tx_hash, spend_block_height, spend_block_time`

func (r *Repository) UpsertBatch(ctx context.Context, records []*entity.CoinbaseRecord, newLastHeight int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r) // re-throw panic after rollback
		}
	}()

	batch := &pgx.Batch{}
	for _, record := range records {
		var (
			spendTxHash      *string
			spendBlockHeight *int64
			spendBlockTime   *time.Time
		)
		if record.Spend != nil {
			spendTxHash = &record.Spend.TxHash
			spendBlockHeight = &record.Spend.BlockHeight
			spendBlockTime = &record.Spend.BlockTime
		}
		batch.Queue(upsertRecord,
			record.TxHash,
			record.Index,
			record.Value,
			record.BlockHeight,
			record.BlockTime,
			spendTxHash,
			spendBlockHeight,
			spendBlockTime,
		)
	}
	batch.Queue(upsertMetadata, metadataKeyLastProcessedHeight, strconv.FormatInt(newLastHeight, 10))

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		_ = tx.Rollback(ctx)
		return errors.Wrapf(err, "failed to upsert batch, total records: %d", len(records))
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

func (r *Repository) GetLastProcessedHeight(ctx context.Context) (int64, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT value FROM metadata WHERE key = $1`, metadataKeyLastProcessedHeight).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	query := `SELECT ` + selectRecordColumns + ` FROM coinbase_spends WHERE block_height >= $1 AND block_height < $2 ORDER BY block_height, tx_hash, output_index`
	rows, err := r.db.Query(ctx, query, from, until)
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
	record, err := scanRecord(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
	count(*) FILTER (WHERE spend_tx_hash IS NULL),
	coalesce(sum(value), 0),
	coalesce(sum(value) FILTER (WHERE spend_tx_hash IS NULL), 0)
FROM coinbase_spends
WHERE block_time < $1`
	var stats entity.SpendStats
	err := r.db.QueryRow(ctx, query, mintedBefore).
		Scan(&stats.TotalOutputs, &stats.UnspentOutputs, &stats.TotalValue, &stats.UnspentValue)
	if err != nil {
		return entity.SpendStats{}, errors.Wrap(err, "failed to query spend stats")
	}
	return stats, nil
}

var periodFormats = map[entity.Period]string{
	entity.PeriodDay:   "YYYY-MM-DD",
	entity.PeriodMonth: "YYYY-MM",
	entity.PeriodYear:  "YYYY",
}

func (r *Repository) GetSpendCountsByPeriod(ctx context.Context, mintedBefore time.Time, period entity.Period) ([]*entity.PeriodCount, error) {
	format, ok := periodFormats[period]
	if !ok {
		return nil, errors.Errorf("unsupported period %q", period)
	}

	query := `
SELECT to_char(spend_block_time AT TIME ZONE 'UTC', $1) AS period, count(*)
FROM coinbase_spends
WHERE spend_tx_hash IS NOT NULL AND block_time < $2
GROUP BY period
ORDER BY period`
	rows, err := r.db.Query(ctx, query, format, mintedBefore)
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
		args = append(args, filter.MintedBefore)
		conds = append(conds, "block_time < $"+strconv.Itoa(len(args)))
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

	rows, err := r.db.Query(ctx, query, args...)
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
		spendTxHash      sql.NullString
		spendBlockHeight sql.NullInt64
		spendBlockTime   sql.NullTime
	)
	if err := row.Scan(
		&record.TxHash,
		&record.Index,
		&record.Value,
		&record.BlockHeight,
		&record.BlockTime,
		&spendTxHash,
		&spendBlockHeight,
		&spendBlockTime,
	); err != nil {
		return nil, err
	}

	if spendTxHash.Valid {
		record.Spend = &entity.SpendDetail{
			TxHash:      spendTxHash.String,
			BlockHeight: spendBlockHeight.Int64,
			BlockTime:   spendBlockTime.Time,
		}
	}
	return &record, nil
}

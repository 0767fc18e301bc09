package datasources

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/core/types"
	"go.uber.org/ratelimit"
)

// Warehouse schema follows the public blockchain dataset: `transactions`
// carries is_coinbase, block_number, block_timestamp and a Nested outputs
// column; `inputs` carries one row per input with the outpoint it spends.
const (
	// ARRAY JOIN flattens the Nested outputs column to one row per output.
	queryCoinbaseOutputs = `
SELECT
	hash,
	toInt32(output_index) AS output_index,
	toInt64(output_value) AS output_value,
	toInt64(block_number) AS block_number,
	block_timestamp
FROM transactions
ARRAY JOIN
	outputs.index AS output_index,
	outputs.value AS output_value
WHERE is_coinbase AND block_number >= ? AND block_number < ?
ORDER BY block_number ASC, hash ASC, output_index ASC`

	// Spends are scoped by the height the spent output was CREATED at, so a
	// batch picks up spends of its own coinbase outputs no matter how much
	// later the spending transaction was mined.
	querySpendEvents = `
SELECT
	i.spent_transaction_hash,
	toInt32(i.spent_output_index) AS spent_output_index,
	i.transaction_hash,
	toInt64(i.block_number) AS block_number,
	i.block_timestamp
FROM inputs AS i
INNER JOIN transactions AS t ON t.hash = i.spent_transaction_hash
WHERE t.is_coinbase AND t.block_number >= ? AND t.block_number < ?
ORDER BY i.spent_transaction_hash ASC, i.spent_output_index ASC`

	queryChainTipHeight = `
SELECT coalesce(max(block_number), toInt64(-1)) AS tip_height
FROM transactions`
)

// Make sure to implement the Datasource interface
var _ Datasource = (*ClickHouseDatasource)(nil)

// ClickHouseDatasource fetches coinbase creation and spend rows from a
// ClickHouse mirror of the public blockchain dataset.
type ClickHouseDatasource struct {
	conn    clickhouse.Conn
	limiter ratelimit.Limiter
}

// NewClickHouse connects to the warehouse described by the DSN. A positive
// queriesPerSecond paces outgoing queries; zero disables pacing.
func NewClickHouse(dsn string, queriesPerSecond int) (*ClickHouseDatasource, error) {
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse clickhouse dsn")
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open clickhouse connection")
	}

	limiter := ratelimit.NewUnlimited()
	if queriesPerSecond > 0 {
		limiter = ratelimit.New(queriesPerSecond)
	}

	return &ClickHouseDatasource{
		conn:    conn,
		limiter: limiter,
	}, nil
}

func (d *ClickHouseDatasource) Name() string {
	return "clickhouse"
}

// FetchCoinbaseOutputs returns coinbase outputs created at heights in
// [from, until), ordered by (height, tx hash, output index).
func (d *ClickHouseDatasource) FetchCoinbaseOutputs(ctx context.Context, from, until int64) (outputs []*types.CoinbaseOutput, err error) {
	if from < 0 || until < from {
		return nil, errors.Wrapf(errs.InvalidRange, "invalid coinbase output range [%d, %d)", from, until)
	}

	d.limiter.Take()
	rows, err := d.conn.Query(ctx, queryCoinbaseOutputs, from, until)
	if err != nil {
		return nil, errors.Wrapf(errors.Join(err, errs.SourceUnavailable), "failed to query coinbase outputs [%d, %d)", from, until)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close rows")
		}
	}()

	outputs = make([]*types.CoinbaseOutput, 0)
	for rows.Next() {
		var output types.CoinbaseOutput
		if err := rows.Scan(
			&output.TxHash,
			&output.Index,
			&output.Value,
			&output.BlockHeight,
			&output.BlockTime,
		); err != nil {
			return nil, errors.Wrapf(errors.Join(err, errs.SourceUnavailable), "failed to scan coinbase output in [%d, %d)", from, until)
		}
		outputs = append(outputs, &output)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.Join(err, errs.SourceUnavailable), "failed to iterate coinbase outputs [%d, %d)", from, until)
	}

	return outputs, nil
}

// FetchSpendEvents returns spends of coinbase outputs created at heights in
// [from, until).
func (d *ClickHouseDatasource) FetchSpendEvents(ctx context.Context, from, until int64) (spends []*types.SpendEvent, err error) {
	if from < 0 || until < from {
		return nil, errors.Wrapf(errs.InvalidRange, "invalid spend event range [%d, %d)", from, until)
	}

	d.limiter.Take()
	rows, err := d.conn.Query(ctx, querySpendEvents, from, until)
	if err != nil {
		return nil, errors.Wrapf(errors.Join(err, errs.SourceUnavailable), "failed to query spend events [%d, %d)", from, until)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close rows")
		}
	}()

	spends = make([]*types.SpendEvent, 0)
	for rows.Next() {
		var spend types.SpendEvent
		if err := rows.Scan(
			&spend.PreviousOutTxHash,
			&spend.PreviousOutIndex,
			&spend.TxHash,
			&spend.BlockHeight,
			&spend.BlockTime,
		); err != nil {
			return nil, errors.Wrapf(errors.Join(err, errs.SourceUnavailable), "failed to scan spend event in [%d, %d)", from, until)
		}
		spends = append(spends, &spend)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(errors.Join(err, errs.SourceUnavailable), "failed to iterate spend events [%d, %d)", from, until)
	}

	return spends, nil
}

// GetChainTipHeight returns the highest block height present in the
// warehouse, or -1 when the source is empty.
func (d *ClickHouseDatasource) GetChainTipHeight(ctx context.Context) (int64, error) {
	d.limiter.Take()
	var tip int64
	if err := d.conn.QueryRow(ctx, queryChainTipHeight).Scan(&tip); err != nil {
		return -1, errors.Wrap(errors.Join(err, errs.SourceUnavailable), "failed to query chain tip height")
	}
	return tip, nil
}

func (d *ClickHouseDatasource) Close() error {
	return errors.WithStack(d.conn.Close())
}

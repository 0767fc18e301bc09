package sqlite

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	_ "modernc.org/sqlite"
)

// Make sure to implement the CoinbaseSpendDataGateway interface
var _ datagateway.CoinbaseSpendDataGateway = (*Repository)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS coinbase_spends (
	tx_hash TEXT NOT NULL,
	output_index INTEGER NOT NULL,
	value BIGINT NOT NULL,
	block_height BIGINT NOT NULL,
	block_time TEXT NOT NULL,
	spend_tx_hash TEXT,
	spend_block_height BIGINT,
	spend_block_time TEXT,
	PRIMARY KEY (tx_hash, output_index)
);
CREATE INDEX IF NOT EXISTS coinbase_spends_block_height_idx ON coinbase_spends (block_height);
CREATE TABLE IF NOT EXISTS metadata (
	key TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
);`

type Repository struct {
	db *sql.DB
}

// NewRepository opens the SQLite database at path, creating the file and the
// schema when missing. Pass ":memory:" for an in-memory database.
func NewRepository(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}

	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return errors.Wrap(r.db.Close(), "failed to close sqlite database")
}

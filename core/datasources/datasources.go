package datasources

import (
	"context"

	"github.com/gaze-network/coinbase-tracker/core/types"
)

// Datasource is an interface for collector data sources. Implementations
// are stateless query adapters: they translate range queries into source
// requests and normalize rows, nothing more. Retries are the caller's
// concern.
type Datasource interface {
	Name() string

	// FetchCoinbaseOutputs returns every coinbase output created at a
	// height in the half-open range [from, until), ordered by
	// (height, tx hash, output index).
	FetchCoinbaseOutputs(ctx context.Context, from, until int64) ([]*types.CoinbaseOutput, error)

	// FetchSpendEvents returns every spend whose spent output was CREATED
	// at a height in [from, until). The spending transaction itself may be
	// at any height at or above the output's.
	FetchSpendEvents(ctx context.Context, from, until int64) ([]*types.SpendEvent, error)

	// GetChainTipHeight returns the highest block height known to the source.
	GetChainTipHeight(ctx context.Context) (int64, error)
}

package entity

import (
	"time"

	"github.com/gaze-network/coinbase-tracker/core/types"
)

// CoinbaseRecord is the durable state of a single coinbase output: the
// creation fields, which never change once written, and the spend that
// consumed it, set at most once.
type CoinbaseRecord struct {
	TxHash      string
	Index       int32
	Value       int64
	BlockHeight int64
	BlockTime   time.Time

	// Spend is nil while the output is unspent.
	Spend *SpendDetail
}

type SpendDetail struct {
	TxHash      string
	BlockHeight int64
	BlockTime   time.Time
}

func (r CoinbaseRecord) OutPoint() types.OutPoint {
	return types.OutPoint{TxHash: r.TxHash, Index: r.Index}
}

func (r CoinbaseRecord) IsSpent() bool {
	return r.Spend != nil
}

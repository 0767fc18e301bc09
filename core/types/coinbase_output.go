package types

import (
	"fmt"
	"time"
)

// OutPoint identifies a transaction output by the transaction that created
// it and the output's position within that transaction.
type OutPoint struct {
	TxHash string
	Index  int32
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxHash, o.Index)
}

// CoinbaseOutput is a single output of a block reward transaction as
// reported by the remote source. Hashes are hex text, exactly as the
// source returns them.
type CoinbaseOutput struct {
	TxHash      string
	Index       int32
	Value       int64
	BlockHeight int64
	BlockTime   time.Time
}

func (o CoinbaseOutput) OutPoint() OutPoint {
	return OutPoint{TxHash: o.TxHash, Index: o.Index}
}

// SpendEvent reports that a coinbase output was consumed by an input of a
// later transaction. PreviousOut* reference the output being spent; the
// remaining fields describe the spending transaction.
type SpendEvent struct {
	PreviousOutTxHash string
	PreviousOutIndex  int32
	TxHash            string
	BlockHeight       int64
	BlockTime         time.Time
}

func (s SpendEvent) PreviousOutPoint() OutPoint {
	return OutPoint{TxHash: s.PreviousOutTxHash, Index: s.PreviousOutIndex}
}

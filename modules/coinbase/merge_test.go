package coinbase

import (
	"context"
	"testing"
	"time"

	"github.com/gaze-network/coinbase-tracker/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeBatch(t *testing.T) {
	ctx := context.Background()
	blockTime := func(height int64) time.Time {
		return time.Date(2009, 1, 9, 0, 0, 0, 0, time.UTC).Add(time.Duration(height) * 10 * time.Minute)
	}
	output := func(txHash string, index int32, value, height int64) *types.CoinbaseOutput {
		return &types.CoinbaseOutput{
			TxHash:      txHash,
			Index:       index,
			Value:       value,
			BlockHeight: height,
			BlockTime:   blockTime(height),
		}
	}
	spend := func(prevTxHash string, prevIndex int32, txHash string, height int64) *types.SpendEvent {
		return &types.SpendEvent{
			PreviousOutTxHash: prevTxHash,
			PreviousOutIndex:  prevIndex,
			TxHash:            txHash,
			BlockHeight:       height,
			BlockTime:         blockTime(height),
		}
	}

	t.Run("joins_spends_to_outputs", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{
			output("c1", 0, 50_0000_0000, 100),
			output("c2", 0, 50_0000_0000, 101),
		}
		spends := []*types.SpendEvent{
			spend("c1", 0, "s1", 170),
		}

		records := MergeBatch(ctx, outputs, spends)

		require.Len(t, records, 2)
		require.NotNil(t, records[0].Spend, "spent output should carry its spend")
		assert.Equal(t, "s1", records[0].Spend.TxHash)
		assert.Equal(t, int64(170), records[0].Spend.BlockHeight)
		assert.Equal(t, blockTime(170), records[0].Spend.BlockTime)
		assert.Nil(t, records[1].Spend, "unspent output should have no spend")
	})

	t.Run("preserves_creation_fields", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{output("c1", 2, 25_0000_0000, 210001)}

		records := MergeBatch(ctx, outputs, nil)

		require.Len(t, records, 1)
		assert.Equal(t, "c1", records[0].TxHash)
		assert.Equal(t, int32(2), records[0].Index)
		assert.Equal(t, int64(25_0000_0000), records[0].Value)
		assert.Equal(t, int64(210001), records[0].BlockHeight)
		assert.Equal(t, blockTime(210001), records[0].BlockTime)
	})

	t.Run("sorts_by_height_tx_hash_index", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{
			output("c9", 1, 100, 300),
			output("c9", 0, 100, 300),
			output("c1", 0, 100, 400),
			output("a5", 0, 100, 300),
		}

		records := MergeBatch(ctx, outputs, nil)

		require.Len(t, records, 4)
		assert.Equal(t, types.OutPoint{TxHash: "a5", Index: 0}, records[0].OutPoint())
		assert.Equal(t, types.OutPoint{TxHash: "c9", Index: 0}, records[1].OutPoint())
		assert.Equal(t, types.OutPoint{TxHash: "c9", Index: 1}, records[2].OutPoint())
		assert.Equal(t, types.OutPoint{TxHash: "c1", Index: 0}, records[3].OutPoint())
	})

	t.Run("drops_spend_without_creation", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{output("c1", 0, 100, 100)}
		spends := []*types.SpendEvent{
			spend("missing", 0, "s1", 170),
			spend("c1", 1, "s2", 171),
		}

		records := MergeBatch(ctx, outputs, spends)

		require.Len(t, records, 1, "no record should be invented for an orphan spend")
		assert.Nil(t, records[0].Spend)
	})

	t.Run("keeps_first_duplicate_creation", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{
			output("c1", 0, 100, 100),
			output("c1", 0, 999, 100),
		}

		records := MergeBatch(ctx, outputs, nil)

		require.Len(t, records, 1)
		assert.Equal(t, int64(100), records[0].Value, "first creation row should win")
	})

	t.Run("keeps_earliest_duplicate_spend", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{output("c1", 0, 100, 100)}
		early := spend("c1", 0, "s-early", 170)
		late := spend("c1", 0, "s-late", 280)

		for name, spends := range map[string][]*types.SpendEvent{
			"early_first": {early, late},
			"late_first":  {late, early},
		} {
			records := MergeBatch(ctx, outputs, spends)
			require.Len(t, records, 1)
			require.NotNil(t, records[0].Spend)
			assert.Equal(t, "s-early", records[0].Spend.TxHash, "order %s should not change the kept spend", name)
			assert.Equal(t, int64(170), records[0].Spend.BlockHeight)
		}
	})

	t.Run("breaks_spend_height_ties_by_tx_hash", func(t *testing.T) {
		outputs := []*types.CoinbaseOutput{output("c1", 0, 100, 100)}
		a := spend("c1", 0, "sa", 170)
		b := spend("c1", 0, "sb", 170)

		for name, spends := range map[string][]*types.SpendEvent{
			"a_first": {a, b},
			"b_first": {b, a},
		} {
			records := MergeBatch(ctx, outputs, spends)
			require.Len(t, records, 1)
			require.NotNil(t, records[0].Spend)
			assert.Equal(t, "sa", records[0].Spend.TxHash, "order %s should not change the kept spend", name)
		}
	})

	t.Run("empty_batch", func(t *testing.T) {
		records := MergeBatch(ctx, nil, nil)
		assert.Empty(t, records)
	})
}

func TestMergeBatchDeterministic(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2010, 5, 22, 0, 0, 0, 0, time.UTC)

	outputs := []*types.CoinbaseOutput{
		{TxHash: "c3", Index: 0, Value: 1, BlockHeight: 103, BlockTime: now},
		{TxHash: "c1", Index: 1, Value: 2, BlockHeight: 101, BlockTime: now},
		{TxHash: "c1", Index: 0, Value: 3, BlockHeight: 101, BlockTime: now},
		{TxHash: "c2", Index: 0, Value: 4, BlockHeight: 102, BlockTime: now},
	}
	spends := []*types.SpendEvent{
		{PreviousOutTxHash: "c2", PreviousOutIndex: 0, TxHash: "s2", BlockHeight: 150, BlockTime: now},
		{PreviousOutTxHash: "c1", PreviousOutIndex: 0, TxHash: "s1", BlockHeight: 140, BlockTime: now},
	}

	reversed := func(outputs []*types.CoinbaseOutput, spends []*types.SpendEvent) ([]*types.CoinbaseOutput, []*types.SpendEvent) {
		ro := make([]*types.CoinbaseOutput, 0, len(outputs))
		for i := len(outputs) - 1; i >= 0; i-- {
			ro = append(ro, outputs[i])
		}
		rs := make([]*types.SpendEvent, 0, len(spends))
		for i := len(spends) - 1; i >= 0; i-- {
			rs = append(rs, spends[i])
		}
		return ro, rs
	}

	expected := MergeBatch(ctx, outputs, spends)
	require.Len(t, expected, 4)

	reversedOutputs, reversedSpends := reversed(outputs, spends)
	actual := MergeBatch(ctx, reversedOutputs, reversedSpends)

	assert.Equal(t, expected, actual, "row order should not change merge output")

	var heights []int64
	for _, record := range expected {
		heights = append(heights, record.BlockHeight)
	}
	assert.Equal(t, []int64{101, 101, 102, 103}, heights)
}

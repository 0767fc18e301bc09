package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, repo.Close())
	})
	return repo
}

func testRecord(txHash string, index int32, height int64) *entity.CoinbaseRecord {
	return &entity.CoinbaseRecord{
		TxHash:      txHash,
		Index:       index,
		Value:       50_0000_0000,
		BlockHeight: height,
		BlockTime:   time.Date(2009, 1, 3, 18, 15, 5, 0, time.UTC).Add(time.Duration(height) * 10 * time.Minute),
	}
}

func spentRecord(txHash string, index int32, height int64, spendTxHash string, spendHeight int64) *entity.CoinbaseRecord {
	record := testRecord(txHash, index, height)
	record.Spend = &entity.SpendDetail{
		TxHash:      spendTxHash,
		BlockHeight: spendHeight,
		BlockTime:   time.Date(2011, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	return record
}

func dumpRecords(t *testing.T, repo *Repository) []*entity.CoinbaseRecord {
	t.Helper()
	var records []*entity.CoinbaseRecord
	err := repo.IterateRecords(context.Background(), datagateway.RecordFilter{}, func(record *entity.CoinbaseRecord) error {
		records = append(records, record)
		return nil
	})
	require.NoError(t, err)
	return records
}

func TestGetLastProcessedHeight(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	t.Run("not_found_before_first_commit", func(t *testing.T) {
		_, err := repo.GetLastProcessedHeight(ctx)
		assert.ErrorIs(t, err, errs.NotFound)
	})

	t.Run("advances_with_each_batch", func(t *testing.T) {
		require.NoError(t, repo.UpsertBatch(ctx, nil, 999))
		height, err := repo.GetLastProcessedHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(999), height)

		require.NoError(t, repo.UpsertBatch(ctx, nil, 1999))
		height, err = repo.GetLastProcessedHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1999), height)
	})
}

func TestUpsertBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("round_trips_records", func(t *testing.T) {
		repo := newTestRepository(t)
		records := []*entity.CoinbaseRecord{
			testRecord("c1", 0, 100),
			spentRecord("c2", 1, 101, "s1", 170),
		}

		require.NoError(t, repo.UpsertBatch(ctx, records, 999))

		stored, err := repo.GetRecordsByHeightRange(ctx, 0, 1000)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, records[0], stored[0])
		assert.Equal(t, records[1], stored[1])
	})

	t.Run("reapplying_a_batch_changes_nothing", func(t *testing.T) {
		repo := newTestRepository(t)
		records := []*entity.CoinbaseRecord{
			testRecord("c1", 0, 100),
			spentRecord("c2", 0, 101, "s1", 170),
		}

		require.NoError(t, repo.UpsertBatch(ctx, records, 999))
		before := dumpRecords(t, repo)

		require.NoError(t, repo.UpsertBatch(ctx, records, 999))
		after := dumpRecords(t, repo)

		assert.Equal(t, before, after, "re-applying identical data must be a no-op")
		height, err := repo.GetLastProcessedHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(999), height)
	})

	t.Run("creation_fields_are_immutable", func(t *testing.T) {
		repo := newTestRepository(t)
		original := testRecord("c1", 0, 100)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{original}, 999))

		altered := testRecord("c1", 0, 100)
		altered.Value = 1
		altered.BlockHeight = 555
		altered.BlockTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{altered}, 1999))

		stored, err := repo.GetRecordsByHeightRange(ctx, 0, 1000)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, original, stored[0], "a conflicting upsert must not rewrite creation fields")
	})

	t.Run("unspent_record_gains_spend_later", func(t *testing.T) {
		repo := newTestRepository(t)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{testRecord("c1", 0, 100)}, 999))

		spent := spentRecord("c1", 0, 100, "s1", 200000)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{spent}, 200000))

		stored, err := repo.GetRecordsByHeightRange(ctx, 100, 101)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		require.NotNil(t, stored[0].Spend)
		assert.Equal(t, "s1", stored[0].Spend.TxHash)
		assert.Equal(t, int64(200000), stored[0].Spend.BlockHeight)
	})

	t.Run("present_spend_is_never_rewritten", func(t *testing.T) {
		repo := newTestRepository(t)
		spent := spentRecord("c1", 0, 100, "s1", 170)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{spent}, 999))

		differentSpend := spentRecord("c1", 0, 100, "s2", 280)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{differentSpend}, 1999))

		unspent := testRecord("c1", 0, 100)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{unspent}, 2999))

		stored, err := repo.GetRecordsByHeightRange(ctx, 100, 101)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		require.NotNil(t, stored[0].Spend, "a present spend must never be cleared")
		assert.Equal(t, spent.Spend, stored[0].Spend, "a present spend must never change value")
	})

	t.Run("failed_batch_leaves_previous_state", func(t *testing.T) {
		repo := newTestRepository(t)
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{testRecord("c1", 0, 100)}, 999))

		canceledCtx, cancel := context.WithCancel(ctx)
		cancel()
		err := repo.UpsertBatch(canceledCtx, []*entity.CoinbaseRecord{testRecord("c2", 0, 1100)}, 1999)
		require.Error(t, err)

		height, err := repo.GetLastProcessedHeight(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(999), height, "a failed batch must not advance the checkpoint")
		assert.Len(t, dumpRecords(t, repo), 1, "a failed batch must not leave partial records")
	})
}

func TestGetLatestRecord(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	t.Run("not_found_when_empty", func(t *testing.T) {
		_, err := repo.GetLatestRecord(ctx)
		assert.ErrorIs(t, err, errs.NotFound)
	})

	t.Run("returns_highest_creation_height", func(t *testing.T) {
		require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{
			testRecord("c1", 0, 100),
			testRecord("c3", 0, 300),
			testRecord("c2", 0, 200),
		}, 999))

		latest, err := repo.GetLatestRecord(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(300), latest.BlockHeight)
		assert.Equal(t, "c3", latest.TxHash)
	})
}

func TestGetSpendStats(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	cutoff := time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC)
	early := testRecord("c1", 0, 100)
	earlySpent := spentRecord("c2", 0, 101, "s1", 170)
	late := testRecord("c3", 0, 100)
	late.BlockTime = cutoff.AddDate(1, 0, 0)
	require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{early, earlySpent, late}, 999))

	stats, err := repo.GetSpendStats(ctx, cutoff)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.TotalOutputs, "outputs minted after the cutoff are excluded")
	assert.Equal(t, int64(1), stats.UnspentOutputs)
	assert.Equal(t, int64(1), stats.SpentOutputs())
	assert.Equal(t, int64(100_0000_0000), stats.TotalValue)
	assert.Equal(t, int64(50_0000_0000), stats.UnspentValue)
}

func TestGetSpendCountsByPeriod(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	spendAt := func(txHash string, height int64, spendTime time.Time) *entity.CoinbaseRecord {
		record := testRecord(txHash, 0, height)
		record.Spend = &entity.SpendDetail{TxHash: "s-" + txHash, BlockHeight: height + 1000, BlockTime: spendTime}
		return record
	}
	require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{
		spendAt("c1", 100, time.Date(2011, 6, 10, 12, 0, 0, 0, time.UTC)),
		spendAt("c2", 101, time.Date(2011, 6, 20, 12, 0, 0, 0, time.UTC)),
		spendAt("c3", 102, time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)),
		testRecord("c4", 0, 103),
	}, 999))

	cutoff := time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC)

	t.Run("month", func(t *testing.T) {
		counts, err := repo.GetSpendCountsByPeriod(ctx, cutoff, entity.PeriodMonth)
		require.NoError(t, err)
		assert.Equal(t, []*entity.PeriodCount{
			{Label: "2011-06", Count: 2},
			{Label: "2012-01", Count: 1},
		}, counts)
	})

	t.Run("year", func(t *testing.T) {
		counts, err := repo.GetSpendCountsByPeriod(ctx, cutoff, entity.PeriodYear)
		require.NoError(t, err)
		assert.Equal(t, []*entity.PeriodCount{
			{Label: "2011", Count: 2},
			{Label: "2012", Count: 1},
		}, counts)
	})

	t.Run("day", func(t *testing.T) {
		counts, err := repo.GetSpendCountsByPeriod(ctx, cutoff, entity.PeriodDay)
		require.NoError(t, err)
		require.Len(t, counts, 3)
		assert.Equal(t, "2011-06-10", counts[0].Label)
	})

	t.Run("invalid_period", func(t *testing.T) {
		_, err := repo.GetSpendCountsByPeriod(ctx, cutoff, entity.Period("week"))
		assert.Error(t, err)
	})
}

func TestIterateRecords(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	cutoff := time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC)
	late := testRecord("c9", 0, 100)
	late.BlockTime = cutoff.AddDate(1, 0, 0)
	require.NoError(t, repo.UpsertBatch(ctx, []*entity.CoinbaseRecord{
		testRecord("c1", 0, 100),
		spentRecord("c2", 0, 101, "s1", 170),
		late,
	}, 999))

	collect := func(t *testing.T, filter datagateway.RecordFilter) []string {
		t.Helper()
		var hashes []string
		err := repo.IterateRecords(ctx, filter, func(record *entity.CoinbaseRecord) error {
			hashes = append(hashes, record.TxHash)
			return nil
		})
		require.NoError(t, err)
		return hashes
	}

	t.Run("no_filter_returns_everything_in_creation_order", func(t *testing.T) {
		assert.Equal(t, []string{"c1", "c9", "c2"}, collect(t, datagateway.RecordFilter{}))
	})

	t.Run("minted_before_cutoff", func(t *testing.T) {
		assert.Equal(t, []string{"c1", "c2"}, collect(t, datagateway.RecordFilter{MintedBefore: cutoff}))
	})

	t.Run("spent_only", func(t *testing.T) {
		assert.Equal(t, []string{"c2"}, collect(t, datagateway.RecordFilter{SpentOnly: true}))
	})

	t.Run("unspent_only", func(t *testing.T) {
		assert.Equal(t, []string{"c1", "c9"}, collect(t, datagateway.RecordFilter{UnspentOnly: true}))
	})

	t.Run("conflicting_filters_rejected", func(t *testing.T) {
		err := repo.IterateRecords(ctx, datagateway.RecordFilter{SpentOnly: true, UnspentOnly: true}, func(*entity.CoinbaseRecord) error {
			t.Fatal("callback should not run")
			return nil
		})
		assert.Error(t, err)
	})

	t.Run("callback_error_stops_iteration", func(t *testing.T) {
		sentinel := errors.New("stop")
		calls := 0
		err := repo.IterateRecords(ctx, datagateway.RecordFilter{}, func(*entity.CoinbaseRecord) error {
			calls++
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})
}

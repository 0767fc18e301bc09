package collector

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type heightRange struct {
	From  int64
	Until int64
}

type fakeDatasource struct {
	tip             int64
	tipFailures     int
	outputFailures  int
	fetchErr        error
	outputsByHeight map[int64][]*types.CoinbaseOutput
	spendsByOrigin  map[int64][]*types.SpendEvent

	tipCalls    int
	outputCalls []heightRange
	spendCalls  []heightRange
}

func (d *fakeDatasource) Name() string {
	return "fake"
}

func (d *fakeDatasource) FetchCoinbaseOutputs(_ context.Context, from, until int64) ([]*types.CoinbaseOutput, error) {
	d.outputCalls = append(d.outputCalls, heightRange{From: from, Until: until})
	if d.outputFailures > 0 {
		d.outputFailures--
		return nil, errors.Wrap(errs.SourceUnavailable, "query timed out")
	}
	if d.fetchErr != nil {
		return nil, d.fetchErr
	}
	var outputs []*types.CoinbaseOutput
	for height := from; height < until; height++ {
		outputs = append(outputs, d.outputsByHeight[height]...)
	}
	return outputs, nil
}

func (d *fakeDatasource) FetchSpendEvents(_ context.Context, from, until int64) ([]*types.SpendEvent, error) {
	d.spendCalls = append(d.spendCalls, heightRange{From: from, Until: until})
	var spends []*types.SpendEvent
	for height := from; height < until; height++ {
		spends = append(spends, d.spendsByOrigin[height]...)
	}
	return spends, nil
}

func (d *fakeDatasource) GetChainTipHeight(_ context.Context) (int64, error) {
	d.tipCalls++
	if d.tipFailures > 0 {
		d.tipFailures--
		return -1, errors.Wrap(errs.SourceUnavailable, "connection refused")
	}
	return d.tip, nil
}

type fakeProcessor struct {
	checkpoint    int64
	hasCheckpoint bool
	commitErr     error

	committed []heightRange
	records   []*types.CoinbaseOutput
}

func (p *fakeProcessor) Name() string {
	return "fake"
}

func (p *fakeProcessor) LastProcessedHeight(_ context.Context) (int64, error) {
	if !p.hasCheckpoint {
		return 0, errors.WithStack(errs.NotFound)
	}
	return p.checkpoint, nil
}

func (p *fakeProcessor) MergeBatch(_ context.Context, outputs []*types.CoinbaseOutput, _ []*types.SpendEvent) ([]*types.CoinbaseOutput, error) {
	return outputs, nil
}

func (p *fakeProcessor) CommitBatch(_ context.Context, from, until int64, records []*types.CoinbaseOutput) error {
	if p.commitErr != nil {
		return p.commitErr
	}
	p.committed = append(p.committed, heightRange{From: from, Until: until})
	p.records = append(p.records, records...)
	p.checkpoint = until - 1
	p.hasCheckpoint = true
	return nil
}

func TestCollectorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("processes_ranges_in_order_until_tip", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 2499}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		expected := []heightRange{
			{From: 0, Until: 1000},
			{From: 1000, Until: 2000},
			{From: 2000, Until: 2500},
		}
		assert.Equal(t, expected, datasource.outputCalls, "fetches should cover [genesis, tip] in order")
		assert.Equal(t, expected, datasource.spendCalls)
		assert.Equal(t, expected, processor.committed, "every fetched range should be committed")
		assert.Equal(t, int64(2499), c.LastCommittedHeight())
		assert.Equal(t, StateDone, c.State())
	})

	t.Run("resumes_from_committed_checkpoint", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 2499}
		processor := &fakeProcessor{checkpoint: 999, hasCheckpoint: true}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		expected := []heightRange{
			{From: 1000, Until: 2000},
			{From: 2000, Until: 2500},
		}
		assert.Equal(t, expected, processor.committed, "collection should continue right after the checkpoint")
		assert.Equal(t, int64(2499), c.LastCommittedHeight())
	})

	t.Run("starts_at_configured_genesis_height", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 249}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 100, GenesisHeight: 100}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		expected := []heightRange{
			{From: 100, Until: 200},
			{From: 200, Until: 250},
		}
		assert.Equal(t, expected, processor.committed)
	})

	t.Run("caught_up_terminates_without_fetching", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 999}
		processor := &fakeProcessor{checkpoint: 999, hasCheckpoint: true}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		assert.Empty(t, datasource.outputCalls, "a caught up run should not fetch any range")
		assert.Empty(t, datasource.spendCalls)
		assert.Empty(t, processor.committed, "a caught up run should not touch the store")
		assert.Equal(t, StateDone, c.State())
	})

	t.Run("empty_source_terminates_cleanly", func(t *testing.T) {
		datasource := &fakeDatasource{tip: -1}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		assert.Empty(t, processor.committed)
		assert.Equal(t, StateDone, c.State())
	})

	t.Run("retries_transient_fetch_failures", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 9, outputFailures: 2}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000, MaxRetries: 3}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		assert.Len(t, datasource.outputCalls, 3, "two transient failures should be retried through")
		assert.Equal(t, []heightRange{{From: 0, Until: 10}}, processor.committed)
		assert.Equal(t, StateDone, c.State())
	})

	t.Run("halts_after_retries_exhausted", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 9, outputFailures: 100}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000, MaxRetries: 1}, datasource, processor, nil)

		err := c.Run(ctx)

		require.Error(t, err)
		assert.ErrorIs(t, err, errs.SourceUnavailable)
		assert.Len(t, datasource.outputCalls, 2, "one retry allows two attempts")
		assert.Empty(t, processor.committed, "a halted fetch must not touch the store")
		assert.Equal(t, StateHalted, c.State())
	})

	t.Run("does_not_retry_permanent_errors", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 9, fetchErr: errors.New("malformed credentials")}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000, MaxRetries: 5}, datasource, processor, nil)

		err := c.Run(ctx)

		require.Error(t, err)
		assert.Len(t, datasource.outputCalls, 1, "a non-transient error should fail on the first attempt")
		assert.Equal(t, StateHalted, c.State())
	})

	t.Run("halts_when_chain_tip_unavailable", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 9, tipFailures: 100}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000, MaxRetries: 1}, datasource, processor, nil)

		err := c.Run(ctx)

		require.Error(t, err)
		assert.Empty(t, processor.committed)
		assert.Equal(t, StateHalted, c.State())
	})

	t.Run("halts_on_commit_failure", func(t *testing.T) {
		datasource := &fakeDatasource{tip: 9}
		processor := &fakeProcessor{commitErr: errors.New("disk full")}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		err := c.Run(ctx)

		require.Error(t, err)
		assert.Empty(t, processor.committed)
		assert.Equal(t, StateHalted, c.State())
	})

	t.Run("cancellation_is_a_clean_stop", func(t *testing.T) {
		canceledCtx, cancel := context.WithCancel(ctx)
		cancel()

		datasource := &fakeDatasource{tip: 9}
		processor := &fakeProcessor{checkpoint: 4, hasCheckpoint: true}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		require.NoError(t, c.Run(canceledCtx), "cancellation should not be reported as a failure")
		assert.Empty(t, processor.committed, "no batch should be committed after cancellation")
	})

	t.Run("merged_records_reach_the_commit", func(t *testing.T) {
		now := time.Date(2009, 1, 12, 0, 0, 0, 0, time.UTC)
		datasource := &fakeDatasource{
			tip: 1,
			outputsByHeight: map[int64][]*types.CoinbaseOutput{
				0: {{TxHash: "c0", Index: 0, Value: 50_0000_0000, BlockHeight: 0, BlockTime: now}},
				1: {{TxHash: "c1", Index: 0, Value: 50_0000_0000, BlockHeight: 1, BlockTime: now}},
			},
		}
		processor := &fakeProcessor{}
		c := New[*types.CoinbaseOutput](Config{BatchSize: 1000}, datasource, processor, nil)

		require.NoError(t, c.Run(ctx))

		require.Len(t, processor.records, 2)
		assert.Equal(t, "c0", processor.records[0].TxHash)
		assert.Equal(t, "c1", processor.records[1].TxHash)
	})
}

func TestCollectorDefaults(t *testing.T) {
	c := New[*types.CoinbaseOutput](Config{}, &fakeDatasource{}, &fakeProcessor{}, nil)
	assert.Equal(t, int64(DefaultBatchSize), c.config.BatchSize)
	assert.Equal(t, StateDetermineRange, c.State())
}

package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/core/datasources"
	"github.com/gaze-network/coinbase-tracker/core/types"
	"github.com/gaze-network/coinbase-tracker/pkg/logger"
	"github.com/gaze-network/coinbase-tracker/pkg/logger/slogx"
)

const DefaultBatchSize = 1000

// Make sure to implement the Worker interface
var _ Worker = (*Collector[any])(nil)

// Config controls one collection run.
type Config struct {
	// BatchSize is the number of block heights covered by one batch.
	// Defaults to DefaultBatchSize.
	BatchSize int64

	// GenesisHeight is the first height to collect when the store holds no
	// checkpoint yet.
	GenesisHeight int64

	// MaxRetries bounds retries per remote query before the run halts.
	MaxRetries uint64
}

// batch carries one height range through fetch, merge and commit.
type batch[R any] struct {
	from    int64 // first height of the range
	until   int64 // exclusive end of the range
	outputs []*types.CoinbaseOutput
	spends  []*types.SpendEvent
	records []R
}

// Collector drives the batch cycle: determine the next height range after
// the checkpoint, fetch its rows, merge them into records and commit records
// and checkpoint together, repeating until the run catches up with the chain
// tip sampled at start. Batches are strictly sequential. A failed batch
// halts the run and leaves the store at the previous checkpoint.
type Collector[R any] struct {
	datasource datasources.Datasource
	processor  Processor[R]
	config     Config
	metrics    Metrics

	state      State
	checkpoint int64 // last committed height, GenesisHeight-1 before the first commit
	tip        int64 // chain tip sampled once at run start
	current    *batch[R]
}

func New[R any](config Config, datasource datasources.Datasource, processor Processor[R], metrics Metrics) *Collector[R] {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Collector[R]{
		datasource: datasource,
		processor:  processor,
		config:     config,
		metrics:    metrics,
		state:      StateDetermineRange,
	}
}

// State returns the collector's current position in the batch cycle.
func (c *Collector[R]) State() State {
	return c.state
}

// LastCommittedHeight returns the checkpoint as of the latest commit.
func (c *Collector[R]) LastCommittedHeight() int64 {
	return c.checkpoint
}

// Run executes the batch cycle until the run catches up with the chain tip,
// the context is canceled or a batch fails. Cancellation is a clean stop and
// returns nil; the next run resumes from the committed checkpoint.
func (c *Collector[R]) Run(ctx context.Context) error {
	ctx = logger.WithContext(ctx,
		slog.String("package", "collector"),
		slog.String("processor", c.processor.Name()),
		slog.String("datasource", c.datasource.Name()),
	)

	if err := c.init(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.InfoContext(ctx, "Context canceled, stopping collector")
			return nil
		}
		c.state = StateHalted
		return errors.Wrap(err, "can't init collector state")
	}

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Got quit signal, stopping collector",
				slogx.Int64("last_processed_height", c.checkpoint),
			)
			return nil
		default:
		}

		var err error
		switch c.state {
		case StateDetermineRange:
			err = c.determineRange(ctx)
		case StateFetch:
			err = c.fetch(ctx)
		case StateMerge:
			err = c.merge(ctx)
		case StateCommit:
			err = c.commit(ctx)
		case StateDone:
			logger.InfoContext(ctx, "Collection caught up with chain tip",
				slogx.Int64("last_processed_height", c.checkpoint),
				slogx.Int64("chain_tip_height", c.tip),
			)
			return nil
		default:
			err = errors.Errorf("collector reached unknown state %q", c.state)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.InfoContext(ctx, "Context canceled, stopping collector",
					slogx.Int64("last_processed_height", c.checkpoint),
				)
				return nil
			}
			c.state = StateHalted
			logger.ErrorContext(ctx, "Collector halted on error", err,
				slogx.Int64("last_processed_height", c.checkpoint),
			)
			return errors.WithStack(err)
		}
	}
}

// init loads the committed checkpoint and samples the chain tip the run will
// catch up to. A store without a checkpoint starts at GenesisHeight.
func (c *Collector[R]) init(ctx context.Context) error {
	height, err := c.processor.LastProcessedHeight(ctx)
	if err != nil {
		if !errors.Is(err, errs.NotFound) {
			return errors.Wrap(err, "failed to get last processed height")
		}
		height = c.config.GenesisHeight - 1
	}
	c.checkpoint = height
	c.metrics.SetCheckpointHeight(height)

	tip, err := retryFetch(ctx, c.config.MaxRetries, func() (int64, error) {
		return c.datasource.GetChainTipHeight(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "failed to get chain tip height")
	}
	c.tip = tip
	c.metrics.SetChainTipHeight(tip)

	c.state = StateDetermineRange
	logger.InfoContext(ctx, "Starting collection run",
		slogx.Int64("last_processed_height", c.checkpoint),
		slogx.Int64("chain_tip_height", c.tip),
	)
	return nil
}

// determineRange picks the next half-open height range [checkpoint+1, until)
// or finishes the run once the checkpoint has reached the sampled tip.
func (c *Collector[R]) determineRange(_ context.Context) error {
	from := c.checkpoint + 1
	if from > c.tip {
		c.state = StateDone
		return nil
	}
	c.current = &batch[R]{
		from:  from,
		until: min(from+c.config.BatchSize, c.tip+1),
	}
	c.state = StateFetch
	return nil
}

func (c *Collector[R]) fetch(ctx context.Context) error {
	var (
		b       = c.current
		startAt = time.Now()
		err     error
	)
	defer func() {
		c.metrics.ObserveStage(StateFetch, err, startAt)
	}()

	ctx = logger.WithContext(ctx, slogx.Int64("from", b.from), slogx.Int64("until", b.until))
	logger.DebugContext(ctx, "Fetching batch rows")

	b.outputs, err = retryFetch(ctx, c.config.MaxRetries, func() ([]*types.CoinbaseOutput, error) {
		return c.datasource.FetchCoinbaseOutputs(ctx, b.from, b.until)
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to fetch coinbase outputs [%d, %d)", b.from, b.until)
		return err
	}

	b.spends, err = retryFetch(ctx, c.config.MaxRetries, func() ([]*types.SpendEvent, error) {
		return c.datasource.FetchSpendEvents(ctx, b.from, b.until)
	})
	if err != nil {
		err = errors.Wrapf(err, "failed to fetch spend events [%d, %d)", b.from, b.until)
		return err
	}

	logger.DebugContext(ctx, "Fetched batch rows",
		slogx.Int("total_outputs", len(b.outputs)),
		slogx.Int("total_spends", len(b.spends)),
	)
	c.state = StateMerge
	return nil
}

func (c *Collector[R]) merge(ctx context.Context) error {
	var (
		b       = c.current
		startAt = time.Now()
		err     error
	)
	defer func() {
		c.metrics.ObserveStage(StateMerge, err, startAt)
	}()

	ctx = logger.WithContext(ctx, slogx.Int64("from", b.from), slogx.Int64("until", b.until))

	b.records, err = c.processor.MergeBatch(ctx, b.outputs, b.spends)
	if err != nil {
		err = errors.Wrapf(err, "failed to merge batch [%d, %d)", b.from, b.until)
		return err
	}

	c.state = StateCommit
	return nil
}

func (c *Collector[R]) commit(ctx context.Context) error {
	var (
		b       = c.current
		startAt = time.Now()
		err     error
	)
	defer func() {
		c.metrics.ObserveStage(StateCommit, err, startAt)
	}()

	ctx = logger.WithContext(ctx,
		slogx.Int64("from", b.from),
		slogx.Int64("until", b.until),
		slogx.Int("total_records", len(b.records)),
	)

	if err = c.processor.CommitBatch(ctx, b.from, b.until, b.records); err != nil {
		err = errors.Wrapf(err, "failed to commit batch [%d, %d)", b.from, b.until)
		return err
	}

	c.checkpoint = b.until - 1
	c.metrics.SetCheckpointHeight(c.checkpoint)
	c.current = nil
	c.state = StateDetermineRange

	logger.InfoContext(ctx, "Committed batch",
		slogx.String("event", "batch_committed"),
		slogx.Int64("last_processed_height", c.checkpoint),
		slogx.String("progress", c.progress()),
		slogx.Duration("duration", time.Since(startAt)),
	)
	return nil
}

// progress renders catch-up completion relative to the sampled tip.
func (c *Collector[R]) progress() string {
	total := c.tip - c.config.GenesisHeight + 1
	if total <= 0 {
		return "100.00%"
	}
	done := c.checkpoint - c.config.GenesisHeight + 1
	return fmt.Sprintf("%.2f%%", float64(done)/float64(total)*100)
}

package collector

import (
	"context"
	"time"

	"github.com/gaze-network/coinbase-tracker/core/types"
)

// Worker is a long-running collection task driven by Run.
type Worker interface {
	Run(ctx context.Context) error
}

// State identifies a step of the batch cycle. A run moves
// determine_range -> fetch -> merge -> commit and back until the committed
// checkpoint reaches the chain tip sampled at run start.
type State string

const (
	StateDetermineRange State = "determine_range"
	StateFetch          State = "fetch"
	StateMerge          State = "merge"
	StateCommit         State = "commit"
	StateDone           State = "done"
	StateHalted         State = "halted_on_error"
)

type Processor[R any] interface {
	Name() string

	// LastProcessedHeight returns the committed checkpoint.
	// Returns errs.NotFound before the first commit.
	LastProcessedHeight(ctx context.Context) (int64, error)

	// MergeBatch joins a batch's creation rows and spend rows into the
	// records to persist.
	MergeBatch(ctx context.Context, outputs []*types.CoinbaseOutput, spends []*types.SpendEvent) ([]R, error)

	// CommitBatch persists the batch's records and advances the checkpoint
	// to until-1 as one atomic unit.
	CommitBatch(ctx context.Context, from, until int64, records []R) error
}

// Metrics observes collector progress.
type Metrics interface {
	ObserveStage(stage State, err error, started time.Time)
	SetCheckpointHeight(height int64)
	SetChainTipHeight(height int64)
}

// NoopMetrics discards every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveStage(State, error, time.Time) {}
func (NoopMetrics) SetCheckpointHeight(int64)            {}
func (NoopMetrics) SetChainTipHeight(int64)              {}

package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
)

// Status summarizes collection progress and the stored records.
type Status struct {
	// LastProcessedHeight is -1 when no batch has been committed yet.
	LastProcessedHeight int64
	TotalOutputs        int64
	SpentOutputs        int64
	UnspentOutputs      int64
	TotalValue          int64
	UnspentValue        int64
	LatestRecordHeight  int64
	LatestRecordTime    time.Time
}

func (u *Usecase) GetStatus(ctx context.Context) (Status, error) {
	status := Status{LastProcessedHeight: -1}

	height, err := u.coinbaseDg.GetLastProcessedHeight(ctx)
	if err != nil && !errors.Is(err, errs.NotFound) {
		return Status{}, errors.Wrap(err, "failed to get last processed height")
	}
	if err == nil {
		status.LastProcessedHeight = height
	}

	stats, err := u.coinbaseDg.GetSpendStats(ctx, time.Now())
	if err != nil {
		return Status{}, errors.Wrap(err, "failed to get spend stats")
	}
	status.TotalOutputs = stats.TotalOutputs
	status.SpentOutputs = stats.SpentOutputs()
	status.UnspentOutputs = stats.UnspentOutputs
	status.TotalValue = stats.TotalValue
	status.UnspentValue = stats.UnspentValue

	latest, err := u.coinbaseDg.GetLatestRecord(ctx)
	if err != nil && !errors.Is(err, errs.NotFound) {
		return Status{}, errors.Wrap(err, "failed to get latest record")
	}
	if err == nil {
		status.LatestRecordHeight = latest.BlockHeight
		status.LatestRecordTime = latest.BlockTime
	}

	return status, nil
}

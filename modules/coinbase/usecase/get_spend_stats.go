package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/internal/entity"
	"github.com/samber/lo"
)

// SpendStatsSummary aggregates outputs minted strictly before the cutoff.
type SpendStatsSummary struct {
	MintedBefore   time.Time
	TotalOutputs   int64
	SpentOutputs   int64
	UnspentOutputs int64
	TotalValue     int64
	SpentValue     int64
	UnspentValue   int64
}

func (u *Usecase) GetSpendStats(ctx context.Context, mintedBefore time.Time) (SpendStatsSummary, error) {
	stats, err := u.coinbaseDg.GetSpendStats(ctx, mintedBefore)
	if err != nil {
		return SpendStatsSummary{}, errors.Wrap(err, "failed to get spend stats")
	}
	return SpendStatsSummary{
		MintedBefore:   mintedBefore,
		TotalOutputs:   stats.TotalOutputs,
		SpentOutputs:   stats.SpentOutputs(),
		UnspentOutputs: stats.UnspentOutputs,
		TotalValue:     stats.TotalValue,
		SpentValue:     stats.TotalValue - stats.UnspentValue,
		UnspentValue:   stats.UnspentValue,
	}, nil
}

// PeriodBucket is one calendar bucket of the spend frequency histogram.
type PeriodBucket struct {
	Label string
	Count int64
}

// GetSpendCountsByPeriod buckets spends of outputs minted strictly before
// the cutoff by the calendar period of the spend time. Period is one of
// "day", "month" or "year".
func (u *Usecase) GetSpendCountsByPeriod(ctx context.Context, mintedBefore time.Time, period string) ([]PeriodBucket, error) {
	p := entity.Period(period)
	if !p.IsValid() {
		return nil, errors.Errorf("invalid period %q, must be one of day, month, year", period)
	}
	counts, err := u.coinbaseDg.GetSpendCountsByPeriod(ctx, mintedBefore, p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get spend counts by period")
	}
	return lo.Map(counts, func(count *entity.PeriodCount, _ int) PeriodBucket {
		return PeriodBucket{Label: count.Label, Count: count.Count}
	}), nil
}

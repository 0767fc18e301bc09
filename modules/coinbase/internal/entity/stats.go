package entity

// SpendStats summarizes outputs minted before a cutoff.
type SpendStats struct {
	TotalOutputs   int64
	UnspentOutputs int64
	TotalValue     int64
	UnspentValue   int64
}

func (s SpendStats) SpentOutputs() int64 {
	return s.TotalOutputs - s.UnspentOutputs
}

// Period is a calendar grouping for spend frequency aggregation.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

func (p Period) IsValid() bool {
	switch p {
	case PeriodDay, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

// PeriodCount is one bucket of the spend frequency histogram. Label is the
// truncated calendar period the spends fall in, e.g. "2011-06" for a
// monthly grouping.
type PeriodCount struct {
	Label string
	Count int64
}

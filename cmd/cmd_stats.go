package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/usecase"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type statsCmdOptions struct {
	MintedBefore string
	Period       string
}

func NewStatsCommand() *cobra.Command {
	opts := &statsCmdOptions{}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize spends of early coinbase outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statsHandler(opts, cmd, args)
		},
	}

	flags := statsCmd.Flags()
	flags.StringVar(&opts.MintedBefore, "minted-before", "", "Cutoff (RFC 3339 or YYYY-MM-DD). Defaults to one year after the network genesis block.")
	flags.StringVar(&opts.Period, "period", "month", `Histogram bucket size: "day", "month" or "year"`)

	return statsCmd
}

func statsHandler(opts *statsCmdOptions, cmd *cobra.Command, _ []string) error {
	conf := config.Load()
	ctx := cmd.Context()

	mintedBefore := conf.Network.GenesisTime().AddDate(1, 0, 0)
	if opts.MintedBefore != "" {
		cutoff, err := parseCutoff(opts.MintedBefore)
		if err != nil {
			return errors.Wrapf(err, "invalid cutoff %q", opts.MintedBefore)
		}
		mintedBefore = cutoff
	}

	coinbaseDg, cleanup, err := coinbase.NewDataGateway(ctx, conf)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		_ = cleanup(ctx)
	}()

	uc := usecase.New(coinbaseDg)

	stats, err := uc.GetSpendStats(ctx, mintedBefore)
	if err != nil {
		return errors.Wrap(err, "can't get spend stats")
	}

	counts, err := uc.GetSpendCountsByPeriod(ctx, mintedBefore, opts.Period)
	if err != nil {
		return errors.Wrap(err, "can't get spend counts")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("Coinbase outputs minted before %s", mintedBefore.UTC().Format(time.DateOnly)))
	t.AppendHeader(table.Row{"", "Outputs", "Value (sats)"})
	t.AppendRows([]table.Row{
		{"Total", stats.TotalOutputs, stats.TotalValue},
		{"Spent", stats.SpentOutputs, stats.SpentValue},
		{"Unspent", stats.UnspentOutputs, stats.UnspentValue},
	})
	t.Render()

	if len(counts) > 0 {
		h := table.NewWriter()
		h.SetOutputMirror(os.Stdout)
		h.SetTitle(fmt.Sprintf("Spends per %s", opts.Period))
		h.AppendHeader(table.Row{"Period", "Spends"})
		for _, bucket := range counts {
			h.AppendRow(table.Row{bucket.Label, bucket.Count})
		}
		h.Render()
	}

	return nil
}

// parseCutoff accepts an RFC 3339 timestamp or a bare date.
func parseCutoff(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD date")
}

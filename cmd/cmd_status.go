package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/usecase"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show collection progress and stored record totals",
		RunE:  statusHandler,
	}
}

func statusHandler(cmd *cobra.Command, _ []string) error {
	conf := config.Load()
	ctx := cmd.Context()

	coinbaseDg, cleanup, err := coinbase.NewDataGateway(ctx, conf)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		_ = cleanup(ctx)
	}()

	status, err := usecase.New(coinbaseDg).GetStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "can't get status")
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"Network", conf.Network},
		{"Last processed height", formatCheckpoint(status.LastProcessedHeight)},
		{"Total coinbase outputs", status.TotalOutputs},
		{"Spent outputs", status.SpentOutputs},
		{"Unspent outputs", status.UnspentOutputs},
		{"Total value (sats)", status.TotalValue},
		{"Unspent value (sats)", status.UnspentValue},
	})
	if status.TotalOutputs > 0 {
		t.AppendRows([]table.Row{
			{"Latest record height", status.LatestRecordHeight},
			{"Latest record time", status.LatestRecordTime.UTC().Format(time.RFC3339)},
		})
	}
	t.Render()
	return nil
}

func formatCheckpoint(height int64) string {
	if height < 0 {
		return "none"
	}
	return strconv.FormatInt(height, 10)
}

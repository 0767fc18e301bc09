package cmd

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gaze-network/coinbase-tracker/common/errs"
	"github.com/gaze-network/coinbase-tracker/internal/config"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/datagateway"
	"github.com/gaze-network/coinbase-tracker/modules/coinbase/usecase"
	"github.com/spf13/cobra"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type exportCmdOptions struct {
	Format       string
	Output       string
	MintedBefore string
	SpentOnly    bool
	UnspentOnly  bool
}

func NewExportCommand() *cobra.Command {
	opts := &exportCmdOptions{}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored records to CSV or Parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportHandler(opts, cmd, args)
		},
	}

	flags := exportCmd.Flags()
	flags.StringVar(&opts.Format, "format", "csv", `Output format: "csv" or "parquet"`)
	flags.StringVar(&opts.Output, "output", "", "Output file path. CSV defaults to stdout; Parquet requires a path.")
	flags.StringVar(&opts.MintedBefore, "minted-before", "", "Keep records minted strictly before this cutoff (RFC 3339 or YYYY-MM-DD)")
	flags.BoolVar(&opts.SpentOnly, "spent-only", false, "Keep only spent outputs")
	flags.BoolVar(&opts.UnspentOnly, "unspent-only", false, "Keep only unspent outputs")

	return exportCmd
}

func exportHandler(opts *exportCmdOptions, cmd *cobra.Command, _ []string) error {
	conf := config.Load()
	ctx := cmd.Context()

	if opts.SpentOnly && opts.UnspentOnly {
		return errors.Wrap(errs.InvalidArgument, "--spent-only and --unspent-only are mutually exclusive")
	}

	filter := datagateway.RecordFilter{
		SpentOnly:   opts.SpentOnly,
		UnspentOnly: opts.UnspentOnly,
	}
	if opts.MintedBefore != "" {
		cutoff, err := parseCutoff(opts.MintedBefore)
		if err != nil {
			return errors.Wrapf(err, "invalid cutoff %q", opts.MintedBefore)
		}
		filter.MintedBefore = cutoff
	}

	coinbaseDg, cleanup, err := coinbase.NewDataGateway(ctx, conf)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		_ = cleanup(ctx)
	}()

	uc := usecase.New(coinbaseDg)

	switch opts.Format {
	case "csv":
		return exportCSV(ctx, uc, filter, opts.Output)
	case "parquet":
		if opts.Output == "" {
			return errors.Wrap(errs.InvalidArgument, "parquet export requires --output")
		}
		return exportParquet(ctx, uc, filter, opts.Output)
	default:
		return errors.Wrapf(errs.Unsupported, "%q format is not supported", opts.Format)
	}
}

var csvHeader = []string{"tx_hash", "output_index", "value", "block_height", "block_time", "spent", "spend_tx_hash", "spend_block_height", "spend_block_time"}

func exportCSV(ctx context.Context, uc *usecase.Usecase, filter datagateway.RecordFilter, output string) (err error) {
	out := io.Writer(os.Stdout)
	if output != "" {
		file, createErr := os.Create(output)
		if createErr != nil {
			return errors.Wrap(createErr, "failed to create output file")
		}
		defer func() {
			if closeErr := file.Close(); closeErr != nil && err == nil {
				err = errors.Wrap(closeErr, "failed to close output file")
			}
		}()
		out = file
	}

	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}

	err = uc.ExportRecords(ctx, filter, func(row usecase.ExportRow) error {
		var spendTxHash, spendBlockHeight, spendBlockTime string
		if row.Spent {
			spendTxHash = row.SpendTxHash
			spendBlockHeight = strconv.FormatInt(row.SpendBlockHeight, 10)
			spendBlockTime = row.SpendBlockTime.UTC().Format(time.RFC3339)
		}
		return errors.WithStack(w.Write([]string{
			row.TxHash,
			strconv.FormatInt(int64(row.Index), 10),
			strconv.FormatInt(row.Value, 10),
			strconv.FormatInt(row.BlockHeight, 10),
			row.BlockTime.UTC().Format(time.RFC3339),
			strconv.FormatBool(row.Spent),
			spendTxHash,
			spendBlockHeight,
			spendBlockTime,
		}))
	})
	if err != nil {
		return errors.WithStack(err)
	}

	w.Flush()
	return errors.Wrap(w.Error(), "failed to flush csv writer")
}

const parquetWriterConcurrency = 4

type exportParquetRow struct {
	TxHash           string  `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	OutputIndex      int32   `parquet:"name=output_index, type=INT32"`
	Value            int64   `parquet:"name=value, type=INT64"`
	BlockHeight      int64   `parquet:"name=block_height, type=INT64"`
	BlockTime        int64   `parquet:"name=block_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Spent            bool    `parquet:"name=spent, type=BOOLEAN"`
	SpendTxHash      *string `parquet:"name=spend_tx_hash, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	SpendBlockHeight *int64  `parquet:"name=spend_block_height, type=INT64, repetitiontype=OPTIONAL"`
	SpendBlockTime   *int64  `parquet:"name=spend_block_time, type=INT64, convertedtype=TIMESTAMP_MILLIS, repetitiontype=OPTIONAL"`
}

func exportParquet(ctx context.Context, uc *usecase.Usecase, filter datagateway.RecordFilter, output string) (err error) {
	fw, err := local.NewLocalFileWriter(output)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close output file")
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(exportParquetRow), parquetWriterConcurrency)
	if err != nil {
		return errors.Wrap(err, "can't create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	err = uc.ExportRecords(ctx, filter, func(row usecase.ExportRow) error {
		out := exportParquetRow{
			TxHash:      row.TxHash,
			OutputIndex: row.Index,
			Value:       row.Value,
			BlockHeight: row.BlockHeight,
			BlockTime:   row.BlockTime.UnixMilli(),
			Spent:       row.Spent,
		}
		if row.Spent {
			spendBlockTime := row.SpendBlockTime.UnixMilli()
			out.SpendTxHash = &row.SpendTxHash
			out.SpendBlockHeight = &row.SpendBlockHeight
			out.SpendBlockTime = &spendBlockTime
		}
		return errors.WithStack(pw.Write(out))
	})
	if err != nil {
		return errors.WithStack(err)
	}

	if err := pw.WriteStop(); err != nil {
		return errors.Wrap(err, "failed to finalize parquet file")
	}
	return nil
}

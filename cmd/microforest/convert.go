package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
	"github.com/YuminosukeSato/microforest/preprocessing"
)

type convertOptions struct {
	csv       string
	out       string
	features  int
	bits      int
	raw       bool
	quantizer string
}

func newConvertCmd() *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a label,f0,...,fN CSV file into the binary dataset format",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.csv, "csv", "", "input CSV file")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output dataset file")
	cmd.Flags().IntVar(&opts.features, "features", 0, "feature count (0 infers from the first row)")
	cmd.Flags().IntVar(&opts.bits, "bits", 2, "quantization bits per feature (1-8)")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "input holds label names and float features; fit a quantizer over all rows")
	cmd.Flags().StringVar(&opts.quantizer, "quantizer", "", "where --raw writes the fitted quantizer (default <out>.quantizer.yaml)")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runConvert(cmd *cobra.Command, opts *convertOptions) error {
	bits, err := parseBits(opts.bits)
	if err != nil {
		return err
	}
	var (
		ds     *dataset.Dataset
		report dataset.LoadReport
	)
	if opts.raw {
		ds, report, err = convertRaw(cmd, opts, bits)
	} else {
		ds, report, err = dataset.LoadCSV(opts.csv, opts.features, bits)
	}
	if err != nil {
		return err
	}
	logger := log.GetLoggerWithName("convert")
	for _, rerr := range report.Errors {
		logger.Warn("row rejected", log.ErrorKey, rerr)
	}
	if err := ds.Release(opts.out); err != nil {
		return err
	}
	logger.Info("dataset converted",
		log.PathKey, opts.out,
		log.SamplesKey, report.Accepted,
		log.RejectedKey, report.Rejected,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d samples, %d features, %d labels, %d rejected\n",
		opts.out, report.Accepted, ds.NumFeatures(), ds.NumLabels(), report.Rejected)
	return nil
}

// convertRaw fits a quantizer on every row and writes it next to the dataset.
// Train from the result with data.quantizer so the artifact carries it.
func convertRaw(cmd *cobra.Command, opts *convertOptions, bits uint8) (*dataset.Dataset, dataset.LoadReport, error) {
	table, report, err := preprocessing.LoadRawCSV(opts.csv, opts.features)
	if err != nil {
		return nil, report, err
	}
	q := preprocessing.NewQuantizer(bits)
	if err := q.FitLabels(table.Labels); err != nil {
		return nil, report, err
	}
	if err := q.Fit(table.Rows); err != nil {
		return nil, report, err
	}
	ds, qreport, err := q.Transform(table)
	if err != nil {
		return nil, report, err
	}
	report.Rejected += qreport.Rejected
	report.Errors = append(report.Errors, qreport.Errors...)

	path := opts.quantizer
	if path == "" {
		path = opts.out + ".quantizer.yaml"
	}
	if err := q.Save(path); err != nil {
		return nil, report, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote quantizer %s: %d labels\n", path, len(q.Labels))
	return ds, report, nil
}

func parseBits(bits int) (uint8, error) {
	if bits < 1 || bits > dataset.MaxBits {
		return 0, errors.NewValidationError("bits", "must be between 1 and 8", bits)
	}
	return uint8(bits), nil
}

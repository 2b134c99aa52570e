package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/microforest/config"
	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/forest"
	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
	"github.com/YuminosukeSato/microforest/preprocessing"
	"github.com/YuminosukeSato/microforest/sklearn/ensemble"
)

type predictOptions struct {
	modelDir string
	data     string
	csv      string
	out      string
	stream   bool
	cacheMB  int
}

func newPredictCmd() *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict labels for a dataset with an exported forest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.modelDir, "model", "m", "model", "directory holding forest.bin and artifact.yaml")
	cmd.Flags().StringVar(&opts.data, "data", "", "binary dataset file")
	cmd.Flags().StringVar(&opts.csv, "csv", "", "CSV dataset file (label,f0,...), raw values when the model has a quantizer")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write id,label,predicted,consensus rows to this CSV file")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "read nodes from the forest file on demand instead of loading it")
	cmd.Flags().IntVar(&opts.cacheMB, "cache-mb", 0, "node cache size for --stream (0 disables the cache)")
	cmd.MarkFlagsMutuallyExclusive("data", "csv")
	cmd.MarkFlagsOneRequired("data", "csv")
	return cmd
}

// voter is satisfied by the resident classifier and the streaming predictor.
type voter func(feat dataset.Features) (forest.Vote, error)

func runPredict(cmd *cobra.Command, opts *predictOptions) error {
	art, err := config.ReadArtifact(filepath.Join(opts.modelDir, ensemble.ArtifactFile))
	if err != nil {
		return err
	}
	bits := uint8(art.Bits)

	var ds *dataset.Dataset
	switch {
	case opts.csv != "" && art.Quantizer != nil:
		ds, err = loadRaw(opts.csv, art.Quantizer, art.NumFeatures)
	case opts.csv != "":
		ds, _, err = dataset.LoadCSV(opts.csv, art.NumFeatures, bits)
	default:
		ds, err = dataset.LoadFile(opts.data, bits)
	}
	if err != nil {
		return err
	}
	if ds.NumFeatures() != art.NumFeatures {
		return errors.NewValidationError("data", "feature count does not match the model", ds.NumFeatures())
	}

	var vote voter
	if opts.stream {
		streamOpts := []forest.StreamOption{forest.WithThreshold(art.Threshold)}
		if opts.cacheMB > 0 {
			streamOpts = append(streamOpts, forest.WithNodeCache(opts.cacheMB))
		}
		sp, err := forest.OpenStream(filepath.Join(opts.modelDir, ensemble.ForestFile), art.Layout, bits, art.NumLabels, streamOpts...)
		if err != nil {
			return err
		}
		defer sp.Close()
		vote = sp.PredictSample
		defer func() {
			log.GetLoggerWithName("predict").Debug("stream reads", "stream.reads", sp.Reads())
		}()
	} else {
		clf, err := ensemble.Load(opts.modelDir)
		if err != nil {
			return err
		}
		vote = clf.PredictSample
	}

	samples, err := ds.Samples()
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "predict")
	}

	var w *csv.Writer
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return errors.NewIOError("create", opts.out, err)
		}
		defer f.Close()
		w = csv.NewWriter(f)
		_ = w.Write([]string{"id", "label", "predicted", "consensus"})
	}
	name := func(label uint8) string { return strconv.Itoa(int(label)) }
	if q := art.Quantizer; q != nil {
		name = q.LabelName
	}

	conf := metrics.NewConfusion(art.NumLabels)
	for _, s := range samples {
		v, err := vote(s.Features)
		if err != nil {
			return err
		}
		conf.Add(s.Label, v.Label, v.Known())
		if w != nil {
			_ = w.Write([]string{
				strconv.FormatUint(uint64(s.ID), 10),
				name(s.Label),
				name(v.Label),
				strconv.FormatFloat(v.Consensus, 'f', 4, 64),
			})
		}
	}
	if w != nil {
		w.Flush()
		if err := w.Error(); err != nil {
			return errors.NewIOError("write", opts.out, err)
		}
	}

	// unknown predictions count as wrong
	r := conf.Report(metrics.Flags(art.Metric))
	fmt.Fprintf(cmd.OutOrStdout(), "samples=%d accuracy=%.4f coverage=%.4f threshold=%.4f\n",
		len(samples), r.Accuracy, r.Coverage, art.Threshold)
	return nil
}

// loadRaw quantizes a raw CSV with the model's quantizer. Rows whose label
// the model never saw are rejected.
func loadRaw(path string, q *preprocessing.Quantizer, numFeatures int) (*dataset.Dataset, error) {
	table, _, err := preprocessing.LoadRawCSV(path, numFeatures)
	if err != nil {
		return nil, err
	}
	ds, report, err := q.Transform(table)
	if err != nil {
		return nil, err
	}
	if report.Rejected > 0 {
		log.GetLoggerWithName("predict").Warn("rows rejected", log.PathKey, path, log.RejectedKey, report.Rejected)
	}
	return ds, nil
}

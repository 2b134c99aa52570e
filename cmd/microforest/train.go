package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/microforest/config"
	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
	"github.com/YuminosukeSato/microforest/pkg/telemetry"
	"github.com/YuminosukeSato/microforest/preprocessing"
	"github.com/YuminosukeSato/microforest/sklearn/ensemble"
	"github.com/YuminosukeSato/microforest/store/badgerstore"
)

// splitStream は学習/テスト/検証分割用の乱数サブストリーム
const splitStream = 1 << 48

type trainOptions struct {
	configPath  string
	outDir      string
	plot        string
	bagsDB      string
	metricsAddr string
	pageTrees   bool
	logEvery    int
}

func newTrainCmd() *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Grid-search a random forest and export forest.bin with its artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runTrain(ctx, cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (YAML or JSON)")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "output directory (overrides output.dir)")
	cmd.Flags().StringVar(&opts.plot, "plot", "", "write the threshold curve to this image (overrides output.plot)")
	cmd.Flags().StringVar(&opts.bagsDB, "bags-db", "", "record bags in this Badger directory (overrides output.bags_db)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&opts.pageTrees, "page-trees", false, "keep the best forest's trees on disk during the search")
	cmd.Flags().IntVar(&opts.logEvery, "log-every", 1, "log every n-th grid point")
	return cmd
}

func (o *trainOptions) apply(cfg *config.Config) {
	if o.outDir != "" {
		cfg.Output.Dir = o.outDir
	}
	if o.plot != "" {
		cfg.Output.Plot = o.plot
	}
	if o.bagsDB != "" {
		cfg.Output.BagsDB = o.bagsDB
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
}

// splits is the pool partition of one training run.
type splits struct {
	train, test, validation *dataset.Dataset
}

func runTrain(ctx context.Context, cmd *cobra.Command, opts *trainOptions) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if _, err := log.Setup(cfg.Log); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("train")

	m := telemetry.New()
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", log.ErrorKey, err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return errors.NewIOError("create output dir", cfg.Output.Dir, err)
	}
	ds, quantizer, err := loadTrainingData(cfg, m, logger)
	if err != nil {
		return err
	}
	parts, err := splitPool(ds, cfg)
	if err != nil {
		return err
	}

	clfOpts := []ensemble.Option{
		ensemble.WithTelemetry(m),
		ensemble.WithLogger(logger),
		ensemble.WithCallbacks(ensemble.LogEvaluation(logger, opts.logEvery)),
	}
	if quantizer != nil {
		clfOpts = append(clfOpts, ensemble.WithQuantizer(quantizer))
	}
	if cfg.Output.BagsDB != "" {
		store, serr := badgerstore.Open(badgerstore.Config{Path: cfg.Output.BagsDB, Logger: logger})
		if serr != nil {
			return serr
		}
		defer func() {
			if cerr := store.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		clfOpts = append(clfOpts, ensemble.WithBagStore(store))
	}
	if opts.pageTrees {
		// 木の復元に学習データのファイルが必要
		if err := parts.train.Release(filepath.Join(cfg.Output.Dir, "train.bin")); err != nil {
			return err
		}
		clfOpts = append(clfOpts, ensemble.WithTreePaging(filepath.Join(cfg.Output.Dir, "pages")))
	}

	clf, err := ensemble.FromConfig(cfg, clfOpts...)
	if err != nil {
		return err
	}
	if err := clf.Fit(ctx, parts.train, parts.validation); err != nil {
		return err
	}
	if err := clf.Save(cfg.Output.Dir); err != nil {
		return err
	}

	best := clf.BestResult()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", clf.RunID())
	fmt.Fprintf(out, "best min_split=%d min_leaf=%d max_depth=%d score=%.4f threshold=%.4f coverage=%.4f\n",
		best.MinSplit, best.MinLeaf, best.MaxDepth, best.Report.Score, best.Report.Threshold, best.Report.Coverage)
	fmt.Fprintf(out, "forest %d trees, layout %d bits, written to %s\n",
		clf.Forest().Len(), clf.Forest().Layout.Total(), cfg.Output.Dir)

	if parts.test != nil && parts.test.Len() > 0 {
		report, err := clf.Score(ctx, parts.test)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "test accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f coverage=%.4f\n",
			report.Accuracy, report.Precision, report.Recall, report.F1, report.Coverage)
	}

	if cfg.Output.Plot != "" {
		if err := metrics.PlotThresholdCurve(clf.ThresholdCurve(), best.Report, cfg.Output.Plot); err != nil {
			return err
		}
		fmt.Fprintf(out, "threshold curve written to %s\n", cfg.Output.Plot)
	}
	return nil
}

// loadTrainingData converts the configured CSV when present, otherwise reads
// the binary dataset file. The returned quantizer is nil unless the data
// came from raw values.
func loadTrainingData(cfg *config.Config, m *telemetry.Metrics, logger log.Logger) (*dataset.Dataset, *preprocessing.Quantizer, error) {
	bits, err := parseBits(cfg.Data.Bits)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Data.CSV == "" {
		ds, err := dataset.LoadFile(cfg.Data.Path, bits)
		if err != nil || cfg.Data.Quantizer == "" {
			return ds, nil, err
		}
		q, err := preprocessing.LoadQuantizer(cfg.Data.Quantizer)
		if err != nil {
			return nil, nil, err
		}
		return ds, q, nil
	}

	var (
		ds     *dataset.Dataset
		q      *preprocessing.Quantizer
		report dataset.LoadReport
	)
	if cfg.Data.Raw {
		ds, q, report, err = quantizeRaw(cfg, bits)
	} else {
		ds, report, err = dataset.LoadCSV(cfg.Data.CSV, cfg.Data.Features, bits)
	}
	if err != nil {
		return nil, nil, err
	}
	m.ObserveRejected(report.Rejected)
	if report.Rejected > 0 {
		logger.Warn("csv rows rejected", log.PathKey, cfg.Data.CSV, log.RejectedKey, report.Rejected)
	}
	if err := ds.Release(cfg.Data.Path); err != nil {
		return nil, nil, err
	}
	if err := ds.Load(cfg.Data.Path); err != nil {
		return nil, nil, err
	}
	return ds, q, nil
}

// quantizeRaw fits the quantizer edges on the train split only, then
// quantizes every row. Label names are mapped over all rows so the test and
// validation splits never see an unknown label. Row indices become sample ids,
// so splitPool later reproduces the same partition.
func quantizeRaw(cfg *config.Config, bits uint8) (*dataset.Dataset, *preprocessing.Quantizer, dataset.LoadReport, error) {
	table, report, err := preprocessing.LoadRawCSV(cfg.Data.CSV, cfg.Data.Features)
	if err != nil {
		return nil, nil, report, err
	}
	rows := make([]uint32, table.Len())
	for i := range rows {
		rows[i] = uint32(i)
	}
	part, err := dataset.Split(rows, cfg.Data.TrainRatio, cfg.Data.TestRatio, cfg.Data.ValidRatio, splitRNG(cfg))
	if err != nil {
		return nil, nil, report, err
	}

	q := preprocessing.NewQuantizer(bits)
	if err := q.FitLabels(table.Labels); err != nil {
		return nil, nil, report, err
	}
	if err := q.Fit(table.Subset(part.Train).Rows); err != nil {
		return nil, nil, report, err
	}
	ds, qreport, err := q.Transform(table)
	if err != nil {
		return nil, nil, report, err
	}
	report.Rejected += qreport.Rejected
	report.Errors = append(report.Errors, qreport.Errors...)
	return ds, q, report, nil
}

func splitRNG(cfg *config.Config) *rng.RNG {
	return rng.New(cfg.Forest.Seed).Derive(splitStream, 0)
}

func splitPool(ds *dataset.Dataset, cfg *config.Config) (splits, error) {
	pool, err := ds.SortedIDs()
	if err != nil {
		return splits{}, err
	}
	part, err := dataset.Split(pool, cfg.Data.TrainRatio, cfg.Data.TestRatio, cfg.Data.ValidRatio, splitRNG(cfg))
	if err != nil {
		return splits{}, err
	}
	var s splits
	if s.train, err = ds.Subset(part.Train); err != nil {
		return splits{}, err
	}
	if len(part.Test) > 0 {
		if s.test, err = ds.Subset(part.Test); err != nil {
			return splits{}, err
		}
	}
	if len(part.Validation) > 0 {
		if s.validation, err = ds.Subset(part.Validation); err != nil {
			return splits{}, err
		}
	}
	return s, nil
}

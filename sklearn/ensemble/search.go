package ensemble

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/YuminosukeSato/microforest/core/bagging"
	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/forest"
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/performance"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// 評価可能なOOB票の最低割合
const oobFloorRatio = 0.15

// kfoldStream はfold分割用の乱数サブストリーム
const kfoldStream = 1 << 40

// scoreFunc calibrates the threshold of one grid point and returns its best
// report together with the threshold curve.
type scoreFunc func(p GridPoint, evals []metrics.Evaluation, numLabels int) (metrics.Report, []metrics.Report)

func (c *RandomForestClassifier) searchThreshold(_ GridPoint, evals []metrics.Evaluation, numLabels int) (metrics.Report, []metrics.Report) {
	return metrics.SearchThreshold(evals, numLabels, c.Metric)
}

// searchRun はFit 1回分の作業状態
type searchRun struct {
	c          *RandomForestClassifier
	logger     log.Logger
	train      *dataset.Dataset
	validation *dataset.Dataset
	pool       []uint32
	numLabels  int
	budget     *performance.MemoryBudget
	pageDir    string
}

// Fit runs the grid search over train and keeps the best forest.
// validation is required only for the validation evaluation method.
// The context is checked between grid points; a canceled search leaves the
// classifier unfitted.
func (c *RandomForestClassifier) Fit(ctx context.Context, train, validation *dataset.Dataset) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	if err := c.validate(); err != nil {
		return err
	}
	if train == nil {
		return errors.NewValidationError("train", "dataset is required", nil)
	}
	if c.Evaluation == EvalValidation && validation == nil {
		return errors.NewValidationError("validation", "dataset is required for validation evaluation", nil)
	}
	if c.quantizer != nil {
		if err := c.quantizer.Validate(train.Bits(), train.NumFeatures()); err != nil {
			return err
		}
	}

	c.state.Reset()
	c.forest = nil
	c.results = nil
	c.curve = nil
	c.runID = newRunID()

	return dataset.Acquire(train, func(train *dataset.Dataset) error {
		if validation == nil {
			return c.fit(ctx, train, nil)
		}
		return dataset.Acquire(validation, func(validation *dataset.Dataset) error {
			return c.fit(ctx, train, validation)
		})
	})
}

func (c *RandomForestClassifier) fit(ctx context.Context, train, validation *dataset.Dataset) error {
	pool, err := train.SortedIDs()
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		return errors.Wrap(errors.ErrEmptyData, "RandomForestClassifier.Fit")
	}

	run := &searchRun{
		c: c,
		logger: c.logger.With(
			log.RunIDKey, c.runID,
			log.ModelNameKey, modelName,
			log.OperationKey, log.OperationFit,
		),
		train:     train,
		pool:      pool,
		numLabels: train.NumLabels(),
		budget:    performance.NewMemoryBudgetMB(c.MemoryBudgetMB),
	}
	if c.Evaluation == EvalValidation {
		run.validation = validation
		run.numLabels = max(run.numLabels, validation.NumLabels())
	}
	if c.pageDir != "" {
		run.pageDir = filepath.Join(c.pageDir, c.runID)
		if err := os.MkdirAll(run.pageDir, 0o755); err != nil {
			return errors.NewIOError("create page dir", run.pageDir, err)
		}
	}

	grid := c.grid()
	run.logger.Info("grid search started",
		log.SamplesKey, len(pool),
		log.FeaturesKey, train.NumFeatures(),
		log.LabelsKey, train.NumLabels(),
		log.NumTreesKey, c.NumTrees,
		log.EvaluationKey, c.Evaluation,
		"grid.points", len(grid),
	)

	var (
		best      *forest.Forest
		bestRes   GridResult
		bestCurve []metrics.Report
		found     bool
	)
	callbacks := NewCallbackList(c.callbacks...)
	searchBegin := time.Now()

	for i, p := range grid {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "grid search canceled")
		}
		begin := time.Now()
		f, evals, stats, err := run.evaluate(p)
		if err != nil {
			return errors.Wrapf(err, "grid point min_split=%d min_leaf=%d max_depth=%d", p.MinSplit, p.MinLeaf, p.MaxDepth)
		}
		report, curve := c.scorer(p, evals, run.numLabels)
		if report.Samples == 0 {
			report.Threshold = c.Consensus
		}
		res := GridResult{GridPoint: p, Report: report, Duration: time.Since(begin), Stats: stats}
		c.telemetry.ObserveGridPoint(res.Duration)

		run.logger.Debug("grid point scored",
			log.MinSplitKey, p.MinSplit,
			log.MinLeafKey, p.MinLeaf,
			log.MaxDepthKey, p.MaxDepth,
			log.ScoreKey, report.Score,
			log.ThresholdKey, report.Threshold,
			log.CoverageKey, report.Coverage,
			log.NodesKey, stats.Nodes,
			log.DurationKey, res.Duration.Milliseconds(),
		)

		if !found || report.Score > bestRes.Report.Score {
			if f == nil {
				f, res.Stats, err = run.build(pool, p)
				if err != nil {
					return err
				}
			}
			if best != nil {
				if err := best.RemovePaged(); err != nil {
					return err
				}
			}
			if err := run.pageOut(f); err != nil {
				return err
			}
			best, bestRes, bestCurve, found = f, res, curve, true
			c.telemetry.SetBestScore(report.Score)
		}
		c.results = append(c.results, res)

		env := &GridEnv{
			RunID:     c.runID,
			Iteration: i,
			Total:     len(grid),
			Point:     p,
			Report:    report,
			Best:      bestRes,
			BeginTime: begin,
			EndTime:   time.Now(),
		}
		stop, err := callbacks.AfterPoint(env)
		if err != nil {
			return errors.Wrap(err, "grid callback")
		}
		if stop {
			run.logger.Info("grid search stopped by callback", "grid.evaluated", i+1)
			break
		}
	}

	if err := run.pageIn(best); err != nil {
		return err
	}
	best.Threshold = bestRes.Report.Threshold
	best.NumFeatures = train.NumFeatures()

	if c.bagStore != nil {
		if err := bagging.SaveAll(c.bagStore, best.Bags); err != nil {
			return err
		}
	}

	c.forest = best
	c.best = bestRes
	c.curve = bestCurve
	c.numFeatures = train.NumFeatures()
	c.bits = train.Bits()
	c.state.SetFitted(train.NumFeatures(), len(pool))

	run.logger.Info("grid search completed",
		log.MinSplitKey, bestRes.MinSplit,
		log.MinLeafKey, bestRes.MinLeaf,
		log.MaxDepthKey, bestRes.MaxDepth,
		log.ScoreKey, bestRes.Report.Score,
		log.ThresholdKey, bestRes.Report.Threshold,
		log.DurationKey, time.Since(searchBegin).Milliseconds(),
	)
	return nil
}

// evaluate scores one grid point. The returned forest is nil for kfold,
// where no single forest covers the whole pool.
func (s *searchRun) evaluate(p GridPoint) (*forest.Forest, []metrics.Evaluation, forest.Stats, error) {
	switch s.c.Evaluation {
	case EvalValidation:
		f, stats, err := s.build(s.pool, p)
		if err != nil {
			return nil, nil, stats, err
		}
		ids, err := s.validation.SortedIDs()
		if err != nil {
			return nil, nil, stats, err
		}
		evals, err := collect(f, s.validation, ids)
		return f, evals, stats, err

	case EvalKFold:
		kf, err := NewKFold(s.c.KFolds)
		if err != nil {
			return nil, nil, forest.Stats{}, err
		}
		folds, err := kf.Split(s.pool, rng.New(s.c.Seed).Derive(kfoldStream, 0))
		if err != nil {
			return nil, nil, forest.Stats{}, err
		}
		var (
			evals []metrics.Evaluation
			total forest.Stats
		)
		for _, fold := range folds {
			f, stats, err := s.build(sortedCopy(fold.TrainIDs), p)
			if err != nil {
				return nil, nil, total, err
			}
			total.Nodes += stats.Nodes
			total.Leaves += stats.Leaves
			total.ForcedLeaves += stats.ForcedLeaves
			total.MaxDepth = max(total.MaxDepth, stats.MaxDepth)

			fe, err := collect(f, s.train, sortedCopy(fold.TestIDs))
			if err != nil {
				return nil, nil, total, err
			}
			evals = append(evals, fe...)
		}
		return nil, evals, total, nil

	default:
		f, stats, err := s.build(s.pool, p)
		if err != nil {
			return nil, nil, stats, err
		}
		evals, err := oobEvaluations(f, s.train, s.pool)
		return f, evals, stats, err
	}
}

// build grows a forest over pool. Each call starts from the configured seed,
// so the bags only depend on the pool.
func (s *searchRun) build(pool []uint32, p GridPoint) (*forest.Forest, forest.Stats, error) {
	r := rng.New(s.c.Seed)
	bags, err := bagging.MakeBags(pool, s.c.bagConfig(), r)
	if err != nil {
		return nil, forest.Stats{}, err
	}
	f, stats, err := forest.Build(s.train, bags, s.c.treeParams(p), r, s.treeOptions()...)
	if err != nil {
		return nil, stats, err
	}
	for _, ts := range stats.Trees {
		s.c.telemetry.ObserveTree(ts.Nodes, ts.ForcedLeaves)
	}
	return f, stats, nil
}

func (s *searchRun) treeOptions() []tree.Option {
	return []tree.Option{
		tree.WithMemoryBudget(s.budget),
		tree.WithLogger(s.logger),
	}
}

// pageOut moves every tree of f to disk when paging is enabled.
func (s *searchRun) pageOut(f *forest.Forest) error {
	if s.pageDir == "" {
		return nil
	}
	for i := range f.Trees {
		if err := f.ReleaseTree(i, s.pageDir); err != nil {
			return err
		}
	}
	return nil
}

// pageIn brings the chosen forest back into memory. Trees whose files are
// lost are rebuilt from the training file when one backs the dataset.
func (s *searchRun) pageIn(f *forest.Forest) error {
	if s.pageDir == "" {
		return nil
	}
	if s.train.Path() != "" {
		restore := forest.DefaultRestore(f, s.train, s.pool, s.c.bagConfig(), rng.New(s.c.Seed), s.treeOptions()...)
		f.SetRestore(s.observeRestore(restore))
	}
	for i := range f.Trees {
		if err := f.LoadTree(i); err != nil {
			return err
		}
	}
	if err := f.RemovePaged(); err != nil {
		return err
	}
	if err := os.Remove(s.pageDir); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("page dir not removed", log.PathKey, s.pageDir, log.ErrorKey, err)
	}
	return nil
}

func (s *searchRun) observeRestore(fn forest.RestoreFunc) forest.RestoreFunc {
	return func(kind forest.Kind, i int) (*tree.Tree, error) {
		t, err := fn(kind, i)
		s.c.telemetry.ObserveRestore(err)
		return t, err
	}
}

// oobEvaluations votes every pool sample with the trees that did not see it.
// Samples left out of too few bags are skipped.
func oobEvaluations(f *forest.Forest, ds *dataset.Dataset, pool []uint32) ([]metrics.Evaluation, error) {
	floor := max(1, int(math.Ceil(oobFloorRatio*float64(f.Len()))))
	oob := f.OOBTrees()
	evals := make([]metrics.Evaluation, 0, len(pool))
	for _, id := range pool {
		trees := oob[id]
		if len(trees) < floor {
			continue
		}
		s, err := ds.Sample(id)
		if err != nil {
			return nil, err
		}
		evals = append(evals, evaluation(s.Label, f.Tally(s.Features, trees)))
	}
	return evals, nil
}

// collect votes ids of ds with every tree of f.
func collect(f *forest.Forest, ds *dataset.Dataset, ids []uint32) ([]metrics.Evaluation, error) {
	evals := make([]metrics.Evaluation, 0, len(ids))
	for _, id := range ids {
		s, err := ds.Sample(id)
		if err != nil {
			return nil, err
		}
		evals = append(evals, evaluation(s.Label, f.Tally(s.Features, nil)))
	}
	return evals, nil
}

func evaluation(actual uint8, v forest.Vote) metrics.Evaluation {
	return metrics.Evaluation{
		Actual:    actual,
		Predicted: v.Label,
		Votes:     v.Votes,
		Total:     v.Total,
		Consensus: v.Consensus,
	}
}

func sortedCopy(ids []uint32) []uint32 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

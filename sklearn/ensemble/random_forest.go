// Package ensemble provides RandomForestClassifier, which grid-searches
// tree hyperparameters and calibrates the consensus threshold of a
// quantized random forest.
package ensemble

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/microforest/config"
	"github.com/YuminosukeSato/microforest/core/bagging"
	"github.com/YuminosukeSato/microforest/core/forest"
	"github.com/YuminosukeSato/microforest/core/model"
	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/metrics"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
	"github.com/YuminosukeSato/microforest/pkg/telemetry"
	"github.com/YuminosukeSato/microforest/preprocessing"
)

// Evaluation methods for scoring grid points.
const (
	EvalOOB        = "oob"
	EvalValidation = "validation"
	EvalKFold      = "kfold"
)

// Output file names written by Save.
const (
	ForestFile   = "forest.bin"
	ArtifactFile = "artifact.yaml"
)

const modelName = "RandomForestClassifier"

// GridPoint is one hyperparameter combination.
type GridPoint struct {
	MinSplit int
	MinLeaf  int
	MaxDepth int
}

// GridResult is the outcome of one grid point.
type GridResult struct {
	GridPoint
	Report   metrics.Report
	Duration time.Duration
	Stats    forest.Stats
}

// RandomForestClassifier trains a quantized random forest.
//
// Hyperparameter grids (MinSplit, MinLeaf, MaxDepth) are searched
// exhaustively; every point rebuilds the bags and trees and is scored by
// out-of-bag votes, a validation set or k-fold cross-validation. Only the
// best forest is kept.
type RandomForestClassifier struct {
	NumTrees          int
	Criterion         tree.Criterion
	Bootstrap         bool
	BootstrapRatio    float64
	MinSplit          []int
	MinLeaf           []int
	MaxDepth          []int
	ImpurityThreshold float64
	MaxFeatures       int
	NodeBudget        int
	MemoryBudgetMB    int64
	Seed              uint64
	Evaluation        string
	KFolds            int
	Metric            metrics.Flags
	// Consensus is the threshold used when no held-out sample could be
	// scored, so the threshold search had nothing to calibrate on.
	Consensus float64

	callbacks []Callback
	logger    log.Logger
	telemetry *telemetry.Metrics
	bagStore  bagging.Store
	pageDir   string
	quantizer *preprocessing.Quantizer

	scorer      scoreFunc
	state       *model.StateManager
	runID       string
	forest      *forest.Forest
	best        GridResult
	results     []GridResult
	curve       []metrics.Report
	numFeatures int
	bits        uint8
}

// Option configures a RandomForestClassifier.
type Option func(*RandomForestClassifier)

// NewRandomForestClassifier returns a classifier with the default
// configuration, modified by opts.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	c := &RandomForestClassifier{
		NumTrees:          20,
		Criterion:         tree.Gini,
		Bootstrap:         true,
		BootstrapRatio:    0.632,
		MinSplit:          []int{2},
		MinLeaf:           []int{1},
		MaxDepth:          []int{8},
		ImpurityThreshold: 0.1,
		NodeBudget:        tree.DefaultNodeBudget,
		Seed:              37,
		Evaluation:        EvalOOB,
		KFolds:            4,
		Metric:            metrics.FlagAccuracy,
		Consensus:         0.125,
		logger:            log.GetLoggerWithName("ensemble"),
		state:             model.NewStateManager(),
	}
	c.scorer = c.searchThreshold
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithNumTrees sets the number of trees.
func WithNumTrees(n int) Option {
	return func(c *RandomForestClassifier) { c.NumTrees = n }
}

// WithCriterion sets the impurity criterion.
func WithCriterion(cr tree.Criterion) Option {
	return func(c *RandomForestClassifier) { c.Criterion = cr }
}

// WithBootstrap selects sampling with replacement, or without replacement
// at ratio when bootstrap is false.
func WithBootstrap(bootstrap bool, ratio float64) Option {
	return func(c *RandomForestClassifier) {
		c.Bootstrap = bootstrap
		c.BootstrapRatio = ratio
	}
}

// WithGrid sets the searched values of min_split, min_leaf and max_depth.
func WithGrid(minSplit, minLeaf, maxDepth []int) Option {
	return func(c *RandomForestClassifier) {
		c.MinSplit = minSplit
		c.MinLeaf = minLeaf
		c.MaxDepth = maxDepth
	}
}

// WithImpurityThreshold sets the base of the adaptive gain threshold.
func WithImpurityThreshold(th float64) Option {
	return func(c *RandomForestClassifier) { c.ImpurityThreshold = th }
}

// WithMaxFeatures sets the candidate features per node; 0 means round(sqrt(F)).
func WithMaxFeatures(n int) Option {
	return func(c *RandomForestClassifier) { c.MaxFeatures = n }
}

// WithNodeBudget caps the nodes of each tree.
func WithNodeBudget(n int) Option {
	return func(c *RandomForestClassifier) { c.NodeBudget = n }
}

// WithMemoryBudgetMB caps builder working memory; 0 is unlimited.
func WithMemoryBudgetMB(mb int64) Option {
	return func(c *RandomForestClassifier) { c.MemoryBudgetMB = mb }
}

// WithSeed sets the RNG seed.
func WithSeed(seed uint64) Option {
	return func(c *RandomForestClassifier) { c.Seed = seed }
}

// WithEvaluation selects oob, validation or kfold scoring.
func WithEvaluation(method string) Option {
	return func(c *RandomForestClassifier) { c.Evaluation = method }
}

// WithKFolds sets the fold count for kfold scoring.
func WithKFolds(k int) Option {
	return func(c *RandomForestClassifier) { c.KFolds = k }
}

// WithMetric selects the metrics averaged into the objective.
func WithMetric(flags metrics.Flags) Option {
	return func(c *RandomForestClassifier) { c.Metric = flags }
}

// WithConsensus sets the fallback consensus threshold.
func WithConsensus(th float64) Option {
	return func(c *RandomForestClassifier) { c.Consensus = th }
}

// WithQuantizer stores q in the artifact so raw values can be predicted.
func WithQuantizer(q *preprocessing.Quantizer) Option {
	return func(c *RandomForestClassifier) { c.quantizer = q }
}

// WithCallbacks adds callbacks run after every grid point.
func WithCallbacks(cbs ...Callback) Option {
	return func(c *RandomForestClassifier) { c.callbacks = append(c.callbacks, cbs...) }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(c *RandomForestClassifier) { c.logger = l }
}

// WithTelemetry records build and search metrics.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(c *RandomForestClassifier) { c.telemetry = m }
}

// WithBagStore records the bags of the final forest.
func WithBagStore(s bagging.Store) Option {
	return func(c *RandomForestClassifier) { c.bagStore = s }
}

// WithTreePaging keeps the best forest's trees on disk under dir while later
// grid points are built, so at most one forest is resident.
func WithTreePaging(dir string) Option {
	return func(c *RandomForestClassifier) { c.pageDir = dir }
}

// FromConfig builds a classifier from a loaded configuration.
func FromConfig(cfg *config.Config, opts ...Option) (*RandomForestClassifier, error) {
	crit, err := tree.ParseCriterion(cfg.Forest.Criterion)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithNumTrees(cfg.Forest.NumTrees),
		WithCriterion(crit),
		WithBootstrap(cfg.Forest.Bootstrap, cfg.Forest.BootstrapRatio),
		WithGrid(cfg.Search.MinSplit, cfg.Search.MinLeaf, cfg.Search.MaxDepth),
		WithImpurityThreshold(cfg.Forest.ImpurityThreshold),
		WithMaxFeatures(cfg.Forest.MaxFeatures),
		WithNodeBudget(cfg.Forest.NodeBudget),
		WithMemoryBudgetMB(cfg.Forest.MemoryBudgetMB),
		WithSeed(cfg.Forest.Seed),
		WithEvaluation(cfg.Search.Evaluation),
		WithKFolds(cfg.Search.KFolds),
		WithMetric(metrics.Flags(cfg.Search.Metric)),
		WithConsensus(cfg.Search.Consensus),
	}
	c := NewRandomForestClassifier(append(base, opts...)...)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RandomForestClassifier) validate() error {
	switch {
	case c.NumTrees < 1 || c.NumTrees > forest.MaxTrees:
		return errors.NewValidationError("num_trees", "must be between 1 and 255", c.NumTrees)
	case len(c.MinSplit) == 0 || len(c.MinLeaf) == 0 || len(c.MaxDepth) == 0:
		return errors.NewValidationError("grid", "min_split, min_leaf and max_depth need at least one value", nil)
	case c.Consensus < 0 || c.Consensus > 1:
		return errors.NewValidationError("consensus", "must be in [0, 1]", c.Consensus)
	}
	switch c.Evaluation {
	case EvalOOB, EvalValidation:
	case EvalKFold:
		if c.KFolds < 2 {
			return errors.NewValidationError("k_folds", "must be at least 2", c.KFolds)
		}
	default:
		return errors.NewValidationError("evaluation", "must be oob, validation or kfold", c.Evaluation)
	}
	if err := c.Metric.Validate(); err != nil {
		return err
	}
	if err := c.bagConfig().Validate(); err != nil {
		return err
	}
	for _, p := range c.grid() {
		if err := c.treeParams(p).Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *RandomForestClassifier) grid() []GridPoint {
	points := make([]GridPoint, 0, len(c.MinSplit)*len(c.MinLeaf)*len(c.MaxDepth))
	for _, ms := range c.MinSplit {
		for _, ml := range c.MinLeaf {
			for _, md := range c.MaxDepth {
				points = append(points, GridPoint{MinSplit: ms, MinLeaf: ml, MaxDepth: md})
			}
		}
	}
	return points
}

func (c *RandomForestClassifier) bagConfig() bagging.Config {
	return bagging.Config{NumTrees: c.NumTrees, Bootstrap: c.Bootstrap, Ratio: c.BootstrapRatio}
}

func (c *RandomForestClassifier) treeParams(p GridPoint) tree.Params {
	return tree.Params{
		MinSplit:          p.MinSplit,
		MinLeaf:           p.MinLeaf,
		MaxDepth:          p.MaxDepth,
		Criterion:         c.Criterion,
		ImpurityThreshold: c.ImpurityThreshold,
		MaxFeatures:       c.MaxFeatures,
		NodeBudget:        c.NodeBudget,
	}
}

// IsFitted reports whether Fit or Load succeeded.
func (c *RandomForestClassifier) IsFitted() bool {
	return c.state.IsFitted()
}

// RunID identifies the last Fit.
func (c *RandomForestClassifier) RunID() string {
	return c.runID
}

// Forest returns the fitted forest.
func (c *RandomForestClassifier) Forest() *forest.Forest {
	return c.forest
}

// BestResult returns the chosen grid point.
func (c *RandomForestClassifier) BestResult() GridResult {
	return c.best
}

// Results returns every evaluated grid point in search order.
func (c *RandomForestClassifier) Results() []GridResult {
	return c.results
}

// ThresholdCurve returns the threshold search curve of the chosen point.
func (c *RandomForestClassifier) ThresholdCurve() []metrics.Report {
	return c.curve
}

// GetParams returns the classifier parameters.
func (c *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"num_trees":          c.NumTrees,
		"criterion":          c.Criterion.String(),
		"bootstrap":          c.Bootstrap,
		"bootstrap_ratio":    c.BootstrapRatio,
		"min_split":          c.MinSplit,
		"min_leaf":           c.MinLeaf,
		"max_depth":          c.MaxDepth,
		"impurity_threshold": c.ImpurityThreshold,
		"max_features":       c.MaxFeatures,
		"node_budget":        c.NodeBudget,
		"memory_budget_mb":   c.MemoryBudgetMB,
		"seed":               c.Seed,
		"evaluation":         c.Evaluation,
		"k_folds":            c.KFolds,
		"metric":             uint8(c.Metric),
		"consensus":          c.Consensus,
	}
}

// Save writes the forest file and the configuration artifact into dir.
func (c *RandomForestClassifier) Save(dir string) error {
	if err := c.state.RequireFitted(modelName, "Save"); err != nil {
		return err
	}
	for i := range c.forest.Trees {
		if err := c.forest.LoadTree(i); err != nil {
			return err
		}
	}
	if err := c.forest.Save(filepath.Join(dir, ForestFile)); err != nil {
		return err
	}
	return config.WriteArtifact(filepath.Join(dir, ArtifactFile), c.artifact())
}

func (c *RandomForestClassifier) artifact() *config.Artifact {
	return &config.Artifact{
		Version:           config.ArtifactVersion,
		RunID:             c.runID,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
		NumTrees:          c.NumTrees,
		MinSplit:          c.best.MinSplit,
		MinLeaf:           c.best.MinLeaf,
		MaxDepth:          c.best.MaxDepth,
		Criterion:         c.Criterion.String(),
		Bootstrap:         c.Bootstrap,
		BootstrapRatio:    c.BootstrapRatio,
		ImpurityThreshold: c.ImpurityThreshold,
		MaxFeatures:       c.MaxFeatures,
		NodeBudget:        c.NodeBudget,
		Seed:              c.Seed,
		Evaluation:        c.Evaluation,
		Metric:            int(c.Metric),
		Threshold:         c.forest.Threshold,
		Score:             c.best.Report.Score,
		Bits:              int(c.bits),
		NumFeatures:       c.numFeatures,
		NumLabels:         c.forest.NumLabels,
		Layout:            c.forest.Layout,
		Quantizer:         c.quantizer,
	}
}

// Load restores a classifier saved with Save.
func Load(dir string) (*RandomForestClassifier, error) {
	a, err := config.ReadArtifact(filepath.Join(dir, ArtifactFile))
	if err != nil {
		return nil, err
	}
	f, err := forest.Load(filepath.Join(dir, ForestFile), a.Layout, uint8(a.Bits), a.NumLabels)
	if err != nil {
		return nil, err
	}
	if f.Len() != a.NumTrees {
		return nil, errors.NewFormatError("check tree count", filepath.Join(dir, ForestFile), a.NumTrees, f.Len())
	}
	crit, err := tree.ParseCriterion(a.Criterion)
	if err != nil {
		return nil, err
	}
	f.Threshold = a.Threshold
	f.NumFeatures = a.NumFeatures

	c := NewRandomForestClassifier(
		WithNumTrees(a.NumTrees),
		WithCriterion(crit),
		WithBootstrap(a.Bootstrap, a.BootstrapRatio),
		WithGrid([]int{a.MinSplit}, []int{a.MinLeaf}, []int{a.MaxDepth}),
		WithImpurityThreshold(a.ImpurityThreshold),
		WithMaxFeatures(a.MaxFeatures),
		WithNodeBudget(a.NodeBudget),
		WithSeed(a.Seed),
		WithEvaluation(a.Evaluation),
		WithMetric(metrics.Flags(a.Metric)),
		WithQuantizer(a.Quantizer),
	)
	f.Params = c.treeParams(GridPoint{a.MinSplit, a.MinLeaf, a.MaxDepth})
	c.runID = a.RunID
	c.forest = f
	c.best = GridResult{
		GridPoint: GridPoint{a.MinSplit, a.MinLeaf, a.MaxDepth},
		Report:    metrics.Report{Threshold: a.Threshold, Score: a.Score},
	}
	c.numFeatures = a.NumFeatures
	c.bits = uint8(a.Bits)
	c.state.SetFitted(a.NumFeatures, 0)
	return c, nil
}

// Quantizer returns the raw value quantizer, or nil when the model was
// trained on quantized data.
func (c *RandomForestClassifier) Quantizer() *preprocessing.Quantizer { return c.quantizer }

// newRunID returns a fresh training run identifier.
func newRunID() string {
	return uuid.NewString()
}

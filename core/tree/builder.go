package tree

import (
	"math"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/performance"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// DefaultNodeBudget bounds the nodes of a single tree.
const DefaultNodeBudget = 2047

// minAdaptiveGain floors the adaptive gain threshold.
const minAdaptiveGain = 1e-6

// nodeFootprint is the bytes reserved against the memory budget per node:
// the node itself plus its queue entry.
const nodeFootprint = 12 + 32

// Params are the per-build hyperparameters.
type Params struct {
	MinSplit          int
	MinLeaf           int
	MaxDepth          int
	Criterion         Criterion
	ImpurityThreshold float64
	// MaxFeatures is the number of candidate features per node; 0 means round(sqrt(F)).
	MaxFeatures int
	NodeBudget  int
}

// DefaultParams returns the defaults used by the trainer.
func DefaultParams() Params {
	return Params{
		MinSplit:          2,
		MinLeaf:           1,
		MaxDepth:          8,
		Criterion:         Gini,
		ImpurityThreshold: 0.1,
		NodeBudget:        DefaultNodeBudget,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	switch {
	case p.MinSplit < 2:
		return errors.NewValidationError("min_split", "must be at least 2", p.MinSplit)
	case p.MinLeaf < 1:
		return errors.NewValidationError("min_leaf", "must be at least 1", p.MinLeaf)
	case p.MaxDepth < 1:
		return errors.NewValidationError("max_depth", "must be at least 1", p.MaxDepth)
	case p.ImpurityThreshold < 0:
		return errors.NewValidationError("impurity_threshold", "must be non-negative", p.ImpurityThreshold)
	case p.NodeBudget < 1:
		return errors.NewValidationError("node_budget", "must be positive", p.NodeBudget)
	}
	return nil
}

// BuildStats describes one finished build.
type BuildStats struct {
	Nodes        int
	Leaves       int
	Depth        int
	PeakQueue    int
	ForcedLeaves int
}

// Builder constructs trees breadth-first over one mutable index array.
type Builder struct {
	params Params
	budget *performance.MemoryBudget
	logger log.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMemoryBudget makes the builder force leaves when the budget refuses
// child allocations.
func WithMemoryBudget(b *performance.MemoryBudget) Option {
	return func(bd *Builder) {
		bd.budget = b
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(bd *Builder) {
		bd.logger = l
	}
}

// NewBuilder creates a builder.
func NewBuilder(params Params, opts ...Option) *Builder {
	if params.NodeBudget == 0 {
		params.NodeBudget = DefaultNodeBudget
	}
	b := &Builder{params: params, logger: log.GetLoggerWithName("tree.builder")}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Params returns the build parameters.
func (b *Builder) Params() Params {
	return b.params
}

type nodeToBuild struct {
	node     uint32
	begin    int
	end      int
	depth    int
	fallback uint8
}

// Build grows a tree over the samples named by ids (duplicates allowed, as in a
// bootstrap bag). ds must be resident and contain every id. r supplies the
// candidate-feature draws.
func (b *Builder) Build(index int, ds *dataset.Dataset, ids []uint32, r *rng.RNG) (*Tree, BuildStats, error) {
	var stats BuildStats
	if err := b.params.Validate(); err != nil {
		return nil, stats, err
	}
	if !ds.IsResident() {
		return nil, stats, errors.NewStateError("tree.Build", ds.State().String())
	}
	if len(ids) == 0 {
		return nil, stats, errors.Wrap(errors.ErrEmptyData, "tree.Build")
	}
	if ds.NumLabels() > MaxLabels {
		return nil, stats, errors.NewCapacityError("labels", MaxLabels, ds.NumLabels())
	}

	positions := make([]int, len(ids))
	for i, id := range ids {
		pos, ok := ds.Position(id)
		if !ok {
			return nil, stats, errors.NewValidationError("id", "sample not in dataset", id)
		}
		positions[i] = pos
	}

	numLabels := ds.NumLabels()
	numFeatures := ds.NumFeatures()
	k := b.params.MaxFeatures
	if k <= 0 || k > numFeatures {
		k = int(math.Max(1, math.Round(math.Sqrt(float64(numFeatures)))))
	}
	splitter := NewSplitter(b.params.Criterion, b.params.MinLeaf, ds.Bits(), numLabels)
	counts := make([]int, numLabels)

	t := New(index, ds.Bits())
	t.Nodes = append(t.Nodes, Node{})
	queue := []nodeToBuild{{node: 0, begin: 0, end: len(positions), depth: 0}}
	var reserved int64
	defer func() { b.budget.Free(reserved) }()

	for head := 0; head < len(queue); head++ {
		if pending := len(queue) - head; pending > stats.PeakQueue {
			stats.PeakQueue = pending
		}
		item := queue[head]
		span := positions[item.begin:item.end]
		count := len(span)

		if count == 0 {
			t.Nodes[item.node] = Node{IsLeaf: true, Label: item.fallback}
			continue
		}

		for i := range counts {
			counts[i] = 0
		}
		for _, pos := range span {
			counts[ds.LabelAt(pos)]++
		}
		majority, present := 0, 0
		for l, c := range counts {
			if c > 0 {
				present++
			}
			if c > counts[majority] {
				majority = l
			}
		}
		leaf := Node{IsLeaf: true, Label: uint8(majority)}

		if present == 1 || count < b.params.MinSplit || item.depth >= b.params.MaxDepth-1 {
			t.Nodes[item.node] = leaf
			continue
		}
		if len(t.Nodes)+2 > b.params.NodeBudget {
			stats.ForcedLeaves++
			t.Nodes[item.node] = leaf
			continue
		}
		if !b.budget.CanAllocate(2 * nodeFootprint) {
			stats.ForcedLeaves++
			t.Nodes[item.node] = leaf
			continue
		}

		base := Impurity(counts, count, b.params.Criterion)
		candidates := r.Sample(numFeatures, k)
		split, ok := splitter.BestSplit(ds, span, candidates, counts, base)
		threshold := b.params.ImpurityThreshold / (1 + math.Log2(float64(count+1)))
		if threshold < minAdaptiveGain {
			threshold = minAdaptiveGain
		}
		if !ok || split.Gain <= threshold {
			t.Nodes[item.node] = leaf
			continue
		}

		if err := b.budget.Allocate(2 * nodeFootprint); err != nil {
			stats.ForcedLeaves++
			t.Nodes[item.node] = leaf
			continue
		}
		reserved += 2 * nodeFootprint

		mid := partition(ds, span, split.Feature, split.Threshold) + item.begin
		left := uint32(len(t.Nodes))
		t.Nodes = append(t.Nodes, Node{}, Node{})
		t.Nodes[item.node] = Node{
			Feature: uint16(split.Feature),
			Slot:    split.Slot,
			Left:    left,
		}
		queue = append(queue,
			nodeToBuild{node: left, begin: item.begin, end: mid, depth: item.depth + 1, fallback: uint8(majority)},
			nodeToBuild{node: left + 1, begin: mid, end: item.end, depth: item.depth + 1, fallback: uint8(majority)},
		)
	}

	stats.Nodes = len(t.Nodes)
	stats.Leaves = t.CountLeaves()
	stats.Depth = t.Depth()
	if stats.ForcedLeaves > 0 {
		b.logger.Warn("forced leaves during build",
			log.TreeIndexKey, index,
			log.ForcedLeavesKey, stats.ForcedLeaves,
			log.NodesKey, stats.Nodes,
		)
	}
	b.logger.Debug("tree built",
		log.TreeIndexKey, index,
		log.NodesKey, stats.Nodes,
		log.LeavesKey, stats.Leaves,
		log.DepthKey, stats.Depth,
		log.PeakQueueKey, stats.PeakQueue,
	)
	return t, stats, nil
}

// partition reorders span so values <= threshold come first and returns the
// size of the left block.
func partition(ds *dataset.Dataset, span []int, feature int, threshold uint8) int {
	i, j := 0, len(span)-1
	for i <= j {
		if ds.ValueAt(span[i], feature) <= threshold {
			i++
			continue
		}
		span[i], span[j] = span[j], span[i]
		j--
	}
	return i
}

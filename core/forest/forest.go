// Package forest groups trees into a voting ensemble and handles the packed
// forest file, streamed prediction and per-tree paging.
package forest

import (
	"github.com/YuminosukeSato/microforest/core/bagging"
	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// MaxTrees is the largest tree count a forest file can describe.
const MaxTrees = 255

// featureStream offsets the substreams used for candidate features from the
// ones used for bag draws.
const featureStream = 1 << 32

// Forest is an ordered set of trees with their bags.
type Forest struct {
	Trees       []*tree.Tree
	Bags        []bagging.Bag
	Params      tree.Params
	Layout      tree.Layout
	NumLabels   int
	NumFeatures int
	Bits        uint8
	// Threshold is the minimum consensus for a labelled prediction.
	Threshold float64

	pager *pager
}

// Stats aggregates the build statistics of every tree.
type Stats struct {
	Trees        []tree.BuildStats
	Nodes        int
	Leaves       int
	MaxDepth     int
	ForcedLeaves int
}

func (s *Stats) add(bs tree.BuildStats) {
	s.Trees = append(s.Trees, bs)
	s.Nodes += bs.Nodes
	s.Leaves += bs.Leaves
	s.ForcedLeaves += bs.ForcedLeaves
	if bs.Depth > s.MaxDepth {
		s.MaxDepth = bs.Depth
	}
}

// TreeRNG returns the substream that drives candidate-feature draws for a
// tree. Rebuilding with the same seed, tree index and nonce repeats the draws.
func TreeRNG(r *rng.RNG, treeIndex int, nonce uint64) *rng.RNG {
	return r.Derive(uint64(treeIndex)+featureStream, nonce)
}

// Build grows one tree per bag over ds. ds must be resident and hold every
// bagged id.
func Build(ds *dataset.Dataset, bags []bagging.Bag, params tree.Params, r *rng.RNG, opts ...tree.Option) (*Forest, Stats, error) {
	var stats Stats
	if len(bags) == 0 {
		return nil, stats, errors.Wrap(errors.ErrEmptyData, "forest.Build")
	}
	if len(bags) > MaxTrees {
		return nil, stats, errors.NewCapacityError("trees", MaxTrees, len(bags))
	}

	logger := log.GetLoggerWithName("forest")
	builder := tree.NewBuilder(params, opts...)
	f := &Forest{
		Trees:       make([]*tree.Tree, 0, len(bags)),
		Bags:        bags,
		Params:      builder.Params(),
		NumLabels:   ds.NumLabels(),
		NumFeatures: ds.NumFeatures(),
		Bits:        ds.Bits(),
	}
	for _, bag := range bags {
		t, bs, err := builder.Build(bag.Tree, ds, bag.IDs, TreeRNG(r, bag.Tree, bag.Nonce))
		if err != nil {
			return nil, stats, errors.Wrapf(err, "build tree %d", bag.Tree)
		}
		f.Trees = append(f.Trees, t)
		stats.add(bs)
		logger.Debug("tree built",
			log.TreeIndexKey, bag.Tree,
			log.NonceKey, bag.Nonce,
			log.BagSizeKey, len(bag.IDs),
			log.OOBSizeKey, len(bag.OOB),
			log.NodesKey, bs.Nodes,
			log.LeavesKey, bs.Leaves,
			log.DepthKey, bs.Depth,
			log.PeakQueueKey, bs.PeakQueue,
			log.ForcedLeavesKey, bs.ForcedLeaves,
		)
	}
	return f, stats, nil
}

// Len returns the number of tree slots, resident or not.
func (f *Forest) Len() int {
	return len(f.Trees)
}

// ComputeLayout returns the narrowest node layout for the resident trees.
func (f *Forest) ComputeLayout() (tree.Layout, error) {
	var maxFeature, maxLabel, maxChild int
	for _, t := range f.Trees {
		if t == nil {
			continue
		}
		mf, ml, mc := t.Maxima()
		maxFeature = max(maxFeature, mf)
		maxLabel = max(maxLabel, ml)
		maxChild = max(maxChild, mc)
	}
	return tree.ComputeLayout(maxFeature, maxLabel, maxChild)
}

// OOBTrees returns, for every pool id, the indices of trees whose bag did
// not draw it.
func (f *Forest) OOBTrees() map[uint32][]int {
	out := make(map[uint32][]int)
	for i, b := range f.Bags {
		for _, id := range b.OOB {
			out[id] = append(out[id], i)
		}
	}
	return out
}

// Validate checks every resident tree.
func (f *Forest) Validate() error {
	for i, t := range f.Trees {
		if t == nil {
			continue
		}
		if err := t.Validate(); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
	}
	return nil
}

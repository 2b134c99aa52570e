// Package bagging draws per-tree training bags and their out-of-bag sets.
//
// Every bag is drawn from its own RNG substream derived from (tree index,
// nonce), so any bag can be regenerated later without storing the draws.
package bagging

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// MaxRetries bounds the redraws when a bag duplicates an earlier one.
const MaxRetries = 8

// Config controls how bags are drawn.
type Config struct {
	NumTrees  int
	Bootstrap bool
	// Ratio is the fraction of the pool drawn without replacement when
	// Bootstrap is false.
	Ratio float64
}

// Validate checks the bag parameters.
func (c Config) Validate() error {
	if c.NumTrees < 1 || c.NumTrees > 255 {
		return errors.NewValidationError("num_trees", "must be between 1 and 255", c.NumTrees)
	}
	if !c.Bootstrap && (c.Ratio <= 0 || c.Ratio > 1) {
		return errors.NewValidationError("bootstrap_ratio", "must be in (0, 1]", c.Ratio)
	}
	return nil
}

// Bag is one tree's training draw.
type Bag struct {
	Tree  int
	Nonce uint64
	Hash  uint64
	// Perturbed marks a bag accepted after MaxRetries collisions.
	Perturbed bool
	// IDs are the drawn pool ids in draw order; duplicates appear for bootstrap draws.
	IDs []uint32
	// OOB are the pool ids never drawn, ascending.
	OOB []uint32
}

// Unique returns the distinct bag ids, ascending.
func (b Bag) Unique() []uint32 {
	return uniqueSorted(b.IDs)
}

// InBag reports whether id was drawn.
func (b Bag) InBag(id uint32) bool {
	i := sort.Search(len(b.OOB), func(k int) bool { return b.OOB[k] >= id })
	return i == len(b.OOB) || b.OOB[i] != id
}

// MakeBags draws cfg.NumTrees bags over pool (ascending ids).
func MakeBags(pool []uint32, cfg Config, r *rng.RNG) ([]Bag, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "bagging.MakeBags")
	}

	seen := make(map[uint64]struct{}, cfg.NumTrees)
	bags := make([]Bag, 0, cfg.NumTrees)
	for i := 0; i < cfg.NumTrees; i++ {
		var bag Bag
		for nonce := uint64(0); ; nonce++ {
			bag = Draw(pool, cfg, i, nonce, r)
			if _, dup := seen[bag.Hash]; !dup {
				break
			}
			if nonce >= MaxRetries {
				bag = perturb(pool, bag, i)
				break
			}
		}
		seen[bag.Hash] = struct{}{}
		bags = append(bags, bag)
	}
	return bags, nil
}

// Draw produces the bag for one tree and nonce. It is deterministic in
// (pool, cfg, tree, nonce, r.Seed()) and does not advance r.
func Draw(pool []uint32, cfg Config, tree int, nonce uint64, r *rng.RNG) Bag {
	sub := r.Derive(uint64(tree), nonce)
	n := len(pool)

	var ids []uint32
	if cfg.Bootstrap {
		ids = make([]uint32, n)
		for k := range ids {
			ids[k] = pool[sub.Bounded(uint32(n))]
		}
	} else {
		size := int(math.Round(float64(n) * cfg.Ratio))
		if size < 1 {
			size = 1
		}
		if size > n {
			size = n
		}
		scratch := make([]uint32, n)
		copy(scratch, pool)
		for t := 0; t < size; t++ {
			j := t + int(sub.Bounded(uint32(n-t)))
			scratch[t], scratch[j] = scratch[j], scratch[t]
		}
		ids = scratch[:size:size]
	}
	return finish(pool, tree, nonce, ids)
}

// perturb replaces the last draw with a pool id chosen by rotation so the bag
// differs from any earlier one deterministically, and accepts it.
func perturb(pool []uint32, bag Bag, tree int) Bag {
	ids := make([]uint32, len(bag.IDs))
	copy(ids, bag.IDs)
	last := len(ids) - 1
	ids[last] = pool[(tree+int(bag.Nonce)+1)%len(pool)]
	if ids[last] == bag.IDs[last] && len(pool) > 1 {
		ids[last] = pool[(tree+int(bag.Nonce)+2)%len(pool)]
	}
	out := finish(pool, tree, bag.Nonce, ids)
	out.Perturbed = true
	return out
}

// Regenerate rebuilds the bag recorded as (tree, nonce, perturbed) without
// any stored draw sequence.
func Regenerate(pool []uint32, cfg Config, tree int, nonce uint64, perturbed bool, r *rng.RNG) (Bag, error) {
	if len(pool) == 0 {
		return Bag{}, errors.Wrap(errors.ErrEmptyData, "bagging.Regenerate")
	}
	if err := cfg.Validate(); err != nil {
		return Bag{}, err
	}
	bag := Draw(pool, cfg, tree, nonce, r)
	if perturbed {
		bag = perturb(pool, bag, tree)
	}
	return bag, nil
}

func finish(pool []uint32, tree int, nonce uint64, ids []uint32) Bag {
	sorted := make([]uint32, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Bag{
		Tree:  tree,
		Nonce: nonce,
		Hash:  rng.HashIDs(sorted),
		IDs:   ids,
		OOB:   difference(pool, sorted),
	}
}

// difference returns pool ids absent from sorted.
func difference(pool, sorted []uint32) []uint32 {
	oob := make([]uint32, 0, len(pool)/3)
	j := 0
	for _, id := range pool {
		for j < len(sorted) && sorted[j] < id {
			j++
		}
		if j < len(sorted) && sorted[j] == id {
			continue
		}
		oob = append(oob, id)
	}
	return oob
}

func uniqueSorted(ids []uint32) []uint32 {
	out := make([]uint32, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	k := 0
	for i, id := range out {
		if i == 0 || id != out[k-1] {
			out[k] = id
			k++
		}
	}
	return out[:k]
}

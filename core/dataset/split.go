package dataset

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Partition is a disjoint train/test/validation split of a pool of ids.
type Partition struct {
	Train      []uint32
	Test       []uint32
	Validation []uint32
}

// Split shuffles pool with r and cuts it by ratio. Train and test sizes are
// rounded; validation receives the remainder, so the three sets always cover
// the pool exactly once. Each set is returned sorted ascending.
func Split(pool []uint32, trainRatio, testRatio, validRatio float64, r *rng.RNG) (Partition, error) {
	if trainRatio <= 0 || testRatio < 0 || validRatio < 0 {
		return Partition{}, errors.NewValidationError("split_ratio", "ratios must be non-negative and train positive", []float64{trainRatio, testRatio, validRatio})
	}
	if sum := trainRatio + testRatio + validRatio; math.Abs(sum-1) > 1e-6 {
		return Partition{}, errors.NewValidationError("split_ratio", "ratios must sum to 1", sum)
	}
	if len(pool) == 0 {
		return Partition{}, errors.ErrEmptyData
	}

	ids := make([]uint32, len(pool))
	copy(ids, pool)
	r.Shuffle(ids)

	n := len(ids)
	nTrain := int(math.Round(float64(n) * trainRatio))
	nTest := int(math.Round(float64(n) * testRatio))
	if nTrain == 0 {
		nTrain = 1
	}
	if nTrain+nTest > n {
		nTest = n - nTrain
	}
	if validRatio == 0 {
		nTest = n - nTrain
	}

	p := Partition{
		Train:      sortedCopy(ids[:nTrain]),
		Test:       sortedCopy(ids[nTrain : nTrain+nTest]),
		Validation: sortedCopy(ids[nTrain+nTest:]),
	}
	return p, nil
}

func sortedCopy(ids []uint32) []uint32 {
	out := make([]uint32, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package ensemble

import (
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// CVFold is one train/test partition of sample ids.
type CVFold struct {
	TrainIDs []uint32
	TestIDs  []uint32
}

// KFold splits shuffled ids into contiguous folds.
type KFold struct {
	NSplits int
}

// NewKFold creates a k-fold splitter.
func NewKFold(nSplits int) (*KFold, error) {
	if nSplits < 2 {
		return nil, errors.NewValidationError("k_folds", "must be at least 2", nSplits)
	}
	return &KFold{NSplits: nSplits}, nil
}

// Split shuffles a copy of ids with r and cuts it into NSplits contiguous
// folds of len(ids)/NSplits; the last fold also takes the remainder.
// Train ids of each fold keep the shuffled order of the remaining folds.
func (kf *KFold) Split(ids []uint32, r *rng.RNG) ([]CVFold, error) {
	n := len(ids)
	if n < kf.NSplits {
		return nil, errors.NewValidationError("k_folds", "more folds than samples", kf.NSplits)
	}
	shuffled := make([]uint32, n)
	copy(shuffled, ids)
	r.Shuffle(shuffled)

	foldSize := n / kf.NSplits
	folds := make([]CVFold, kf.NSplits)
	for i := 0; i < kf.NSplits; i++ {
		start := i * foldSize
		end := start + foldSize
		if i == kf.NSplits-1 {
			end = n
		}
		test := make([]uint32, end-start)
		copy(test, shuffled[start:end])

		train := make([]uint32, 0, n-len(test))
		train = append(train, shuffled[:start]...)
		train = append(train, shuffled[end:]...)

		folds[i] = CVFold{TrainIDs: train, TestIDs: test}
	}
	return folds, nil
}

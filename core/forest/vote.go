package forest

import (
	"context"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/parallel"
	"github.com/YuminosukeSato/microforest/core/tree"
)

// batchThreshold is the batch size below which prediction stays sequential.
const batchThreshold = 64

// Vote is the outcome of one forest prediction.
type Vote struct {
	// Label is the majority label, or tree.UnknownLabel when no tree voted
	// or the consensus is below the forest threshold.
	Label     uint8
	Votes     int
	Total     int
	Consensus float64
}

// Known reports whether the vote produced a label.
func (v Vote) Known() bool {
	return v.Label != tree.UnknownLabel
}

// Tally collects votes from the trees in subset (all trees when nil) without
// applying the consensus threshold. Released trees and trees that return an
// unknown label do not vote. Ties go to the lowest label.
func (f *Forest) Tally(feat dataset.Features, subset []int) Vote {
	counts := make([]int, f.NumLabels)
	total := 0
	cast := func(i int) {
		if i < 0 || i >= len(f.Trees) || f.Trees[i] == nil {
			return
		}
		label := f.Trees[i].Predict(feat)
		if int(label) >= len(counts) {
			return
		}
		counts[label]++
		total++
	}
	if subset == nil {
		for i := range f.Trees {
			cast(i)
		}
	} else {
		for _, i := range subset {
			cast(i)
		}
	}
	return tally(counts, total)
}

func tally(counts []int, total int) Vote {
	vote := Vote{Label: tree.UnknownLabel, Total: total}
	if total == 0 {
		return vote
	}
	best := -1
	for label, n := range counts {
		if n > best {
			best = n
			vote.Label = uint8(label)
		}
	}
	vote.Votes = best
	vote.Consensus = float64(best) / float64(total)
	return vote
}

// PredictSample votes over subset and applies the forest threshold.
func (f *Forest) PredictSample(feat dataset.Features, subset []int) Vote {
	return applyThreshold(f.Tally(feat, subset), f.Threshold)
}

func applyThreshold(v Vote, threshold float64) Vote {
	if v.Total == 0 || v.Consensus < threshold {
		v.Label = tree.UnknownLabel
	}
	return v
}

// Predict returns the thresholded label for one sample.
func (f *Forest) Predict(feat dataset.Features) uint8 {
	return f.PredictSample(feat, nil).Label
}

// PredictBatch votes over every sample. Trees are only read, so large
// batches are split across goroutines.
func (f *Forest) PredictBatch(ctx context.Context, samples []dataset.Sample) ([]Vote, error) {
	votes := make([]Vote, len(samples))
	err := parallel.ParallelizeWithThreshold(ctx, len(samples), batchThreshold, func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if i%batchThreshold == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			votes[i] = f.PredictSample(samples[i].Features, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return votes, nil
}

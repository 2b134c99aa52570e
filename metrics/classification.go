package metrics

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Flags selects which metrics make up the objective score.
type Flags uint8

const (
	FlagAccuracy  Flags = 1
	FlagPrecision Flags = 2
	FlagRecall    Flags = 4
	FlagF1        Flags = 8

	flagsAll = FlagAccuracy | FlagPrecision | FlagRecall | FlagF1
)

// Validate rejects bits outside the four known metrics.
func (f Flags) Validate() error {
	if f&^flagsAll != 0 {
		return errors.NewValidationError("metric", "unknown metric flag", uint8(f))
	}
	return nil
}

// epsilon for score and coverage comparisons during threshold search.
const epsilon = 1e-6

// Evaluation is one held-out prediction before any threshold is applied.
type Evaluation struct {
	Actual    uint8
	Predicted uint8
	Votes     int
	Total     int
	Consensus float64
}

// Report summarizes predictions at one consensus threshold.
type Report struct {
	Threshold float64
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
	Coverage  float64
	Score     float64
	// Predicted counts samples at or above the threshold; Samples counts
	// every sample that received at least one vote.
	Predicted int
	Samples   int
}

// Confusion accumulates per-label outcomes.
type Confusion struct {
	TP, FP, FN []float64
	Correct    int
	Predicted  int
	Samples    int
}

// NewConfusion returns an empty confusion table for numLabels labels.
func NewConfusion(numLabels int) *Confusion {
	return &Confusion{
		TP: make([]float64, numLabels),
		FP: make([]float64, numLabels),
		FN: make([]float64, numLabels),
	}
}

// Add records one sample. A rejected sample (below the threshold) is a
// false negative for its actual label.
func (c *Confusion) Add(actual, predicted uint8, accepted bool) {
	c.Samples++
	a := int(actual)
	if !accepted {
		if a < len(c.FN) {
			c.FN[a]++
		}
		return
	}
	c.Predicted++
	if predicted == actual {
		c.Correct++
		if a < len(c.TP) {
			c.TP[a]++
		}
		return
	}
	if p := int(predicted); p < len(c.FP) {
		c.FP[p]++
	}
	if a < len(c.FN) {
		c.FN[a]++
	}
}

// Report computes accuracy, macro precision/recall/F1 and coverage, and the
// objective: the plain mean of the metrics selected by flags (accuracy when
// flags is zero).
func (c *Confusion) Report(flags Flags) Report {
	r := Report{Predicted: c.Predicted, Samples: c.Samples}
	if c.Samples == 0 {
		return r
	}
	r.Accuracy = float64(c.Correct) / float64(c.Samples)
	r.Coverage = float64(c.Predicted) / float64(c.Samples)

	var precisions, recalls, f1s []float64
	for label := range c.TP {
		tp, fp, fn := c.TP[label], c.FP[label], c.FN[label]
		var p, rc float64
		if tp+fp > 0 {
			p = tp / (tp + fp)
			precisions = append(precisions, p)
		}
		if tp+fn > 0 {
			rc = tp / (tp + fn)
			recalls = append(recalls, rc)
		}
		if tp+fp+fn > 0 {
			f := 0.0
			if p+rc > 0 {
				f = 2 * p * rc / (p + rc)
			}
			f1s = append(f1s, f)
		}
	}
	r.Precision = mean(precisions)
	r.Recall = mean(recalls)
	r.F1 = mean(f1s)

	if flags == 0 {
		flags = FlagAccuracy
	}
	var selected []float64
	if flags&FlagAccuracy != 0 {
		selected = append(selected, r.Accuracy)
	}
	if flags&FlagPrecision != 0 {
		selected = append(selected, r.Precision)
	}
	if flags&FlagRecall != 0 {
		selected = append(selected, r.Recall)
	}
	if flags&FlagF1 != 0 {
		selected = append(selected, r.F1)
	}
	r.Score = mean(selected)
	return r
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// Evaluate scores evals at one threshold. Samples without votes are skipped.
func Evaluate(evals []Evaluation, numLabels int, threshold float64, flags Flags) Report {
	c := NewConfusion(numLabels)
	for _, e := range evals {
		if e.Total == 0 {
			continue
		}
		c.Add(e.Actual, e.Predicted, e.Consensus >= threshold)
	}
	r := c.Report(flags)
	r.Threshold = threshold
	return r
}

// Candidates returns the distinct consensus values of evals plus 0 and 1,
// ascending.
func Candidates(evals []Evaluation) []float64 {
	vals := make([]float64, 0, len(evals)+2)
	vals = append(vals, 0, 1)
	for _, e := range evals {
		if e.Total > 0 {
			vals = append(vals, e.Consensus)
		}
	}
	sort.Float64s(vals)
	out := vals[:0]
	for i, v := range vals {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// SearchThreshold evaluates every candidate threshold and returns the best
// report together with the full curve. A higher score wins; within epsilon
// the higher coverage wins, then the lower threshold.
func SearchThreshold(evals []Evaluation, numLabels int, flags Flags) (Report, []Report) {
	best := Report{Threshold: 0.5, Score: -1}
	cands := Candidates(evals)
	curve := make([]Report, 0, len(cands))
	for _, th := range cands {
		r := Evaluate(evals, numLabels, th, flags)
		curve = append(curve, r)
		if better(r, best) {
			best = r
		}
	}
	return best, curve
}

func better(r, best Report) bool {
	switch {
	case r.Score > best.Score+epsilon:
		return true
	case r.Score < best.Score-epsilon:
		return false
	case r.Coverage > best.Coverage+epsilon:
		return true
	case r.Coverage < best.Coverage-epsilon:
		return false
	default:
		return r.Threshold < best.Threshold
	}
}

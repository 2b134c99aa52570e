package tree

import (
	"math"
	"strings"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Criterion selects the impurity measure.
type Criterion int

const (
	// Gini impurity 1 - Σp².
	Gini Criterion = iota
	// Entropy -Σp·log2(p).
	Entropy
)

func (c Criterion) String() string {
	if c == Entropy {
		return "entropy"
	}
	return "gini"
}

// ParseCriterion parses "gini" or "entropy".
func ParseCriterion(s string) (Criterion, error) {
	switch strings.ToLower(s) {
	case "", "gini":
		return Gini, nil
	case "entropy":
		return Entropy, nil
	default:
		return Gini, errors.NewValidationError("criterion", "must be gini or entropy", s)
	}
}

// Impurity computes the impurity of a label distribution.
func Impurity(counts []int, total int, c Criterion) float64 {
	if total == 0 {
		return 0
	}
	n := float64(total)
	if c == Entropy {
		h := 0.0
		for _, k := range counts {
			if k > 0 {
				p := float64(k) / n
				h -= p * math.Log2(p)
			}
		}
		return h
	}
	g := 1.0
	for _, k := range counts {
		p := float64(k) / n
		g -= p * p
	}
	return g
}

// Split is the best split found for a node.
type Split struct {
	Feature    int
	Slot       uint8
	Threshold  uint8
	Gain       float64
	LeftCount  int
	RightCount int
}

// Splitter searches splits over quantized features. Its count buffers are
// reused between nodes.
type Splitter struct {
	criterion Criterion
	minLeaf   int
	bits      uint8
	numLabels int

	table []int
	left  []int
	right []int
}

// NewSplitter creates a splitter for one dataset shape.
func NewSplitter(criterion Criterion, minLeaf int, bits uint8, numLabels int) *Splitter {
	if minLeaf < 1 {
		minLeaf = 1
	}
	values := 1 << bits
	return &Splitter{
		criterion: criterion,
		minLeaf:   minLeaf,
		bits:      bits,
		numLabels: numLabels,
		table:     make([]int, values*numLabels),
		left:      make([]int, numLabels),
		right:     make([]int, numLabels),
	}
}

// BestSplit evaluates every candidate feature and representable threshold.
//
// positions index into ds, which must be resident. totals holds the per-label
// counts of the node and base its impurity. A split leaving either side below
// minLeaf (or empty) is excluded. The strictly greatest gain wins, so ties keep
// the first split in candidate order, thresholds ascending.
func (s *Splitter) BestSplit(ds *dataset.Dataset, positions []int, candidates []int, totals []int, base float64) (Split, bool) {
	best := Split{Gain: math.Inf(-1)}
	found := false
	total := len(positions)
	nThresholds := NumThresholds(s.bits)
	maxValue := int(dataset.MaxValue(s.bits))

	for _, f := range candidates {
		for i := range s.table {
			s.table[i] = 0
		}
		for _, pos := range positions {
			s.table[int(ds.ValueAt(pos, f))*s.numLabels+int(ds.LabelAt(pos))]++
		}

		for l := range s.left {
			s.left[l] = 0
		}
		leftTotal := 0
		next := 0
		for slot := 0; slot < nThresholds; slot++ {
			threshold := int(ThresholdValue(s.bits, uint8(slot)))
			for ; next <= threshold && next <= maxValue; next++ {
				row := s.table[next*s.numLabels : (next+1)*s.numLabels]
				for l, k := range row {
					s.left[l] += k
					leftTotal += k
				}
			}
			rightTotal := total - leftTotal
			if leftTotal < s.minLeaf || rightTotal < s.minLeaf || leftTotal == 0 || rightTotal == 0 {
				continue
			}
			for l := range s.right {
				s.right[l] = totals[l] - s.left[l]
			}
			wl := float64(leftTotal) / float64(total)
			wr := float64(rightTotal) / float64(total)
			gain := base - (wl*Impurity(s.left, leftTotal, s.criterion) + wr*Impurity(s.right, rightTotal, s.criterion))
			if gain > best.Gain {
				best = Split{
					Feature:    f,
					Slot:       uint8(slot),
					Threshold:  uint8(threshold),
					Gain:       gain,
					LeftCount:  leftTotal,
					RightCount: rightTotal,
				}
				found = true
			}
		}
	}
	return best, found
}

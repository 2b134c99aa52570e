// Package tree builds and evaluates quantized decision trees.
//
// A Tree is an append-only flat array of nodes with the root at index 0.
// Children are always allocated in pairs, so an internal node only stores its
// left child index and the right child is Left+1. Internal nodes store a
// threshold slot rather than a raw value; ThresholdValue maps it back for the
// dataset's quantization width.
package tree

import (
	"fmt"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// UnknownLabel is returned when no prediction can be made.
const UnknownLabel uint8 = 255

// MaxLabels is the number of usable labels; UnknownLabel is reserved.
const MaxLabels = dataset.MaxLabel + 1

// Node is the unpacked form of a tree node.
type Node struct {
	IsLeaf  bool
	Feature uint16
	Slot    uint8
	Label   uint8
	Left    uint32
}

// Right returns the right child index.
func (n Node) Right() uint32 {
	return n.Left + 1
}

// NumThresholds returns how many threshold slots exist for a bit width.
func NumThresholds(bits uint8) int {
	if bits <= 3 {
		return (1 << bits) - 1
	}
	return 7
}

// ThresholdValue maps a slot to the largest value that goes left.
//
// For widths up to 3 bits the slot is the value itself. Wider quantizations
// use 7 evenly spaced thresholds so the slot always fits in 3 bits.
func ThresholdValue(bits, slot uint8) uint8 {
	if bits <= 3 {
		return slot
	}
	return uint8(((int(slot)+1)<<bits)/8 - 1)
}

// Tree is a flat, index-addressed binary tree.
type Tree struct {
	Index int
	Bits  uint8
	Nodes []Node
}

// New returns an empty tree for the given quantization width.
func New(index int, bits uint8) *Tree {
	return &Tree{Index: index, Bits: bits}
}

// Predict walks from the root and returns the leaf label.
func (t *Tree) Predict(f dataset.Features) uint8 {
	if len(t.Nodes) == 0 {
		return UnknownLabel
	}
	idx := uint32(0)
	for steps := 0; steps < len(t.Nodes); steps++ {
		n := t.Nodes[idx]
		if n.IsLeaf {
			return n.Label
		}
		if f.At(int(n.Feature)) <= ThresholdValue(t.Bits, n.Slot) {
			idx = n.Left
		} else {
			idx = n.Left + 1
		}
		if int(idx) >= len(t.Nodes) {
			return UnknownLabel
		}
	}
	return UnknownLabel
}

// Len returns the node count.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// CountLeaves returns the number of leaf nodes.
func (t *Tree) CountLeaves() int {
	n := 0
	for _, node := range t.Nodes {
		if node.IsLeaf {
			n++
		}
	}
	return n
}

// Depth returns the number of levels (a single leaf has depth 1).
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	depth := make([]int, len(t.Nodes))
	depth[0] = 1
	max := 1
	// Breadth-first order guarantees parents precede children.
	for i, n := range t.Nodes {
		if n.IsLeaf {
			continue
		}
		for _, c := range []uint32{n.Left, n.Left + 1} {
			if int(c) < len(depth) {
				depth[c] = depth[i] + 1
				if depth[c] > max {
					max = depth[c]
				}
			}
		}
	}
	return max
}

// Maxima reports the largest feature id, label and child index, used to size a Layout.
func (t *Tree) Maxima() (maxFeature, maxLabel, maxChild int) {
	for _, n := range t.Nodes {
		if n.IsLeaf {
			if int(n.Label) > maxLabel {
				maxLabel = int(n.Label)
			}
			continue
		}
		if int(n.Feature) > maxFeature {
			maxFeature = int(n.Feature)
		}
		if int(n.Left) > maxChild {
			maxChild = int(n.Left)
		}
	}
	return maxFeature, maxLabel, maxChild
}

// Validate checks the structural invariants: every internal node's children
// exist, come after it, and right == left+1 lies inside the array.
func (t *Tree) Validate() error {
	if len(t.Nodes) == 0 {
		return errors.NewValidationError("tree", "empty tree", t.Index)
	}
	for i, n := range t.Nodes {
		if n.IsLeaf {
			continue
		}
		if int(n.Left) <= i || int(n.Left)+1 >= len(t.Nodes) {
			return errors.NewValidationError("tree", fmt.Sprintf("node %d has invalid children", i), n.Left)
		}
		if int(n.Slot) >= NumThresholds(t.Bits) {
			return errors.NewValidationError("tree", fmt.Sprintf("node %d threshold slot out of range", i), n.Slot)
		}
	}
	return nil
}

// Equal reports whether two trees have identical nodes.
func (t *Tree) Equal(o *Tree) bool {
	if o == nil || t.Bits != o.Bits || len(t.Nodes) != len(o.Nodes) {
		return false
	}
	for i := range t.Nodes {
		if t.Nodes[i] != o.Nodes[i] {
			return false
		}
	}
	return true
}

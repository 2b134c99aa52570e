package tree

import (
	"math/bits"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// WordBits is the storage word size of the MCU-compatible node format.
const WordBits = 32

const (
	leafBits = 1
	slotBits = 3
)

// field is one bit range inside a packed node word.
type field struct {
	offset uint8
	width  uint8
}

func (f field) mask() uint32 {
	return (uint32(1) << f.width) - 1
}

func (f field) get(w uint32) uint32 {
	return (w >> f.offset) & f.mask()
}

func (f field) put(w, v uint32) uint32 {
	return w&^(f.mask()<<f.offset) | (v&f.mask())<<f.offset
}

func (f field) fits(v uint32) bool {
	return v <= f.mask()
}

// Layout describes the packed node word, LSB first:
//
//	is_leaf(1) | threshold_slot(3) | feature_id(FeatureBits) | label(LabelBits) | left_child(ChildBits)
//
// Widths are computed once per exported forest and recorded in the
// configuration artifact so readers can rebuild the layout.
type Layout struct {
	FeatureBits uint8 `yaml:"feature_bits" json:"feature_bits"`
	LabelBits   uint8 `yaml:"label_bits" json:"label_bits"`
	ChildBits   uint8 `yaml:"child_bits" json:"child_bits"`
}

// ComputeLayout returns the narrowest layout able to hold the given maxima.
// A layout wider than WordBits is a CapacityError.
func ComputeLayout(maxFeature, maxLabel, maxChild int) (Layout, error) {
	l := Layout{
		FeatureBits: widthFor(maxFeature),
		LabelBits:   widthFor(maxLabel),
		ChildBits:   widthFor(maxChild),
	}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Validate checks that every field has a width and the word fits in WordBits.
func (l Layout) Validate() error {
	if l.FeatureBits == 0 || l.LabelBits == 0 || l.ChildBits == 0 {
		return errors.NewValidationError("layout", "field widths must be positive", l)
	}
	if total := l.Total(); total > WordBits {
		return errors.NewCapacityError("node word bits", WordBits, total)
	}
	return nil
}

// Total returns the number of bits used per node.
func (l Layout) Total() int {
	return leafBits + slotBits + int(l.FeatureBits) + int(l.LabelBits) + int(l.ChildBits)
}

func (l Layout) leaf() field    { return field{0, leafBits} }
func (l Layout) slot() field    { return field{leafBits, slotBits} }
func (l Layout) feature() field { return field{leafBits + slotBits, l.FeatureBits} }
func (l Layout) label() field {
	return field{leafBits + slotBits + l.FeatureBits, l.LabelBits}
}
func (l Layout) child() field {
	return field{leafBits + slotBits + l.FeatureBits + l.LabelBits, l.ChildBits}
}

// Pack encodes n. Any value wider than its field is a CapacityError; values
// are never truncated.
func (l Layout) Pack(n Node) (uint32, error) {
	var w uint32
	if n.IsLeaf {
		w = l.leaf().put(w, 1)
	}
	checks := []struct {
		name string
		f    field
		v    uint32
	}{
		{"threshold slot", l.slot(), uint32(n.Slot)},
		{"feature id", l.feature(), uint32(n.Feature)},
		{"label", l.label(), uint32(n.Label)},
		{"child index", l.child(), n.Left},
	}
	for _, c := range checks {
		if !c.f.fits(c.v) {
			return 0, errors.NewCapacityError(c.name, int(c.f.mask()), int(c.v))
		}
		w = c.f.put(w, c.v)
	}
	return w, nil
}

// Unpack decodes a word produced by Pack with the same layout.
func (l Layout) Unpack(w uint32) Node {
	return Node{
		IsLeaf:  l.leaf().get(w) == 1,
		Slot:    uint8(l.slot().get(w)),
		Feature: uint16(l.feature().get(w)),
		Label:   uint8(l.label().get(w)),
		Left:    l.child().get(w),
	}
}

func widthFor(max int) uint8 {
	if max <= 0 {
		return 1
	}
	return uint8(bits.Len32(uint32(max)))
}

// Package dataset is the quantized sample store.
//
// A Dataset holds samples whose features are quantized to a dataset-wide bit
// width and packed MSB-first. Samples are addressed by stable uint32 IDs. A
// dataset is either resident (samples in memory) or released (samples only in
// its binary file); Load and Release are the only transitions, and every other
// accessor fails with a StateError on a released dataset.
package dataset

import (
	"sort"

	"github.com/YuminosukeSato/microforest/core/model"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Sample is one labeled, quantized record.
type Sample struct {
	ID       uint32
	Label    uint8
	Features Features
}

// Dataset is a collection of samples sharing feature count and bit width.
type Dataset struct {
	bits        uint8
	numFeatures int
	stride      int

	ids    []uint32
	labels []uint8
	data   []byte
	index  map[uint32]int

	count     int
	numLabels int
	residency model.ResidencyState
}

// New creates an empty resident dataset.
func New(numFeatures int, bits uint8) (*Dataset, error) {
	if bits == 0 || bits > MaxBits {
		return nil, errors.NewValidationError("bits", "must be between 1 and 8", bits)
	}
	if numFeatures <= 0 || numFeatures > 0xFFFF {
		return nil, errors.NewValidationError("feature_count", "must be between 1 and 65535", numFeatures)
	}
	return &Dataset{
		bits:        bits,
		numFeatures: numFeatures,
		stride:      PackedBytes(bits, numFeatures),
		index:       make(map[uint32]int),
	}, nil
}

// Bits returns the quantization width.
func (d *Dataset) Bits() uint8 { return d.bits }

// NumFeatures returns F.
func (d *Dataset) NumFeatures() int { return d.numFeatures }

// Len returns the sample count. It is valid in both states.
func (d *Dataset) Len() int { return d.count }

// NumLabels returns max label + 1 over the samples seen so far.
func (d *Dataset) NumLabels() int { return d.numLabels }

// SetNumLabels widens the label space, e.g. to match a training pool.
func (d *Dataset) SetNumLabels(n int) {
	if n > d.numLabels {
		d.numLabels = n
	}
}

// State reports whether samples are resident.
func (d *Dataset) State() model.Residency { return d.residency.State() }

// IsResident is shorthand for State() == model.Resident.
func (d *Dataset) IsResident() bool { return d.residency.State() == model.Resident }

// Path returns the binary file recorded by the last Release or Load.
func (d *Dataset) Path() string { return d.residency.Path() }

// Add appends a sample. Values above 2^bits-1 are a ValidationError and the
// sample is not added.
func (d *Dataset) Add(id uint32, label uint8, values []uint8) error {
	if err := d.residency.Require("Dataset.Add"); err != nil {
		return err
	}
	if len(values) != d.numFeatures {
		return errors.NewValidationError("features", "wrong feature count", len(values))
	}
	if _, dup := d.index[id]; dup {
		return errors.NewValidationError("id", "duplicate sample id", id)
	}
	if label > MaxLabel {
		return errors.NewValidationError("label", "255 is reserved for unknown predictions", label)
	}
	maxV := MaxValue(d.bits)
	for f, v := range values {
		if v > maxV {
			return errors.NewValidationError("feature", "value exceeds 2^bits-1", map[string]int{"feature": f, "value": int(v)})
		}
	}

	off := len(d.data)
	d.data = append(d.data, make([]byte, d.stride)...)
	row := d.data[off : off+d.stride]
	for f, v := range values {
		putValue(row, d.bits, f, v)
	}
	d.appendRecord(id, label)
	return nil
}

// addPacked appends an already packed record (used by the binary reader).
func (d *Dataset) addPacked(id uint32, label uint8, packed []byte) {
	d.data = append(d.data, packed...)
	d.appendRecord(id, label)
}

func (d *Dataset) appendRecord(id uint32, label uint8) {
	d.index[id] = len(d.ids)
	d.ids = append(d.ids, id)
	d.labels = append(d.labels, label)
	d.count = len(d.ids)
	if int(label)+1 > d.numLabels {
		d.numLabels = int(label) + 1
	}
}

// IDs returns the sample IDs in storage order.
func (d *Dataset) IDs() ([]uint32, error) {
	if err := d.residency.Require("Dataset.IDs"); err != nil {
		return nil, err
	}
	out := make([]uint32, len(d.ids))
	copy(out, d.ids)
	return out, nil
}

// SortedIDs returns the sample IDs in ascending order.
func (d *Dataset) SortedIDs() ([]uint32, error) {
	ids, err := d.IDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Sample returns the sample with the given id.
func (d *Dataset) Sample(id uint32) (Sample, error) {
	if err := d.residency.Require("Dataset.Sample"); err != nil {
		return Sample{}, err
	}
	pos, ok := d.index[id]
	if !ok {
		return Sample{}, errors.NewValidationError("id", "unknown sample id", id)
	}
	return d.sampleAt(pos), nil
}

// Samples returns every sample in storage order.
func (d *Dataset) Samples() ([]Sample, error) {
	if err := d.residency.Require("Dataset.Samples"); err != nil {
		return nil, err
	}
	out := make([]Sample, len(d.ids))
	for i := range d.ids {
		out[i] = d.sampleAt(i)
	}
	return out, nil
}

func (d *Dataset) sampleAt(pos int) Sample {
	off := pos * d.stride
	return Sample{
		ID:       d.ids[pos],
		Label:    d.labels[pos],
		Features: Features{bits: d.bits, n: d.numFeatures, data: d.data[off : off+d.stride]},
	}
}

// LabelCounts returns the number of samples per label.
func (d *Dataset) LabelCounts() ([]int, error) {
	if err := d.residency.Require("Dataset.LabelCounts"); err != nil {
		return nil, err
	}
	counts := make([]int, d.numLabels)
	for _, l := range d.labels {
		counts[l]++
	}
	return counts, nil
}

// Position returns the storage position of id. Hot paths in the tree builder
// use positions with LabelAt/ValueAt after checking residency once.
func (d *Dataset) Position(id uint32) (int, bool) {
	pos, ok := d.index[id]
	return pos, ok
}

// LabelAt returns the label at a storage position. The dataset must be resident.
func (d *Dataset) LabelAt(pos int) uint8 {
	return d.labels[pos]
}

// ValueAt returns feature f at a storage position. The dataset must be resident.
func (d *Dataset) ValueAt(pos, f int) uint8 {
	return getValue(d.data[pos*d.stride:(pos+1)*d.stride], d.bits, f)
}

// Subset copies the given samples into a new resident dataset.
// Duplicate ids are stored once.
func (d *Dataset) Subset(ids []uint32) (*Dataset, error) {
	if err := d.residency.Require("Dataset.Subset"); err != nil {
		return nil, err
	}
	sub, err := New(d.numFeatures, d.bits)
	if err != nil {
		return nil, err
	}
	sub.numLabels = d.numLabels
	for _, id := range ids {
		if _, dup := sub.index[id]; dup {
			continue
		}
		pos, ok := d.index[id]
		if !ok {
			return nil, errors.NewValidationError("id", "unknown sample id", id)
		}
		sub.addPacked(id, d.labels[pos], d.data[pos*d.stride:(pos+1)*d.stride])
	}
	return sub, nil
}

// MemoryUsage estimates the resident footprint in bytes.
func (d *Dataset) MemoryUsage() int64 {
	if !d.IsResident() {
		return 0
	}
	return int64(len(d.data)) + int64(len(d.ids))*4 + int64(len(d.labels)) + int64(len(d.index))*16
}

// free drops sample memory but keeps count, shape and label space.
func (d *Dataset) free() {
	d.ids = nil
	d.labels = nil
	d.data = nil
	d.index = make(map[uint32]int)
}

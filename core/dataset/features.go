package dataset

import (
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// MaxBits is the widest supported quantization.
const MaxBits = 8

// MaxLabel is the largest storable label. 255 is reserved for unknown
// predictions.
const MaxLabel = 254

// PackedBytes returns ceil(bits*n/8).
func PackedBytes(bits uint8, n int) int {
	return (int(bits)*n + 7) / 8
}

// MaxValue returns 2^bits - 1.
func MaxValue(bits uint8) uint8 {
	return uint8((1 << bits) - 1)
}

// Features is a read-only view over bit-packed feature values.
// Values are stored MSB-first within each byte, in value order.
type Features struct {
	bits uint8
	n    int
	data []byte
}

// PackFeatures validates and packs values at the given width.
func PackFeatures(bits uint8, values []uint8) (Features, error) {
	if bits == 0 || bits > MaxBits {
		return Features{}, errors.NewValidationError("bits", "must be between 1 and 8", bits)
	}
	data := make([]byte, PackedBytes(bits, len(values)))
	maxV := MaxValue(bits)
	for i, v := range values {
		if v > maxV {
			return Features{}, errors.NewValidationError("feature", "value exceeds 2^bits-1", v)
		}
		putValue(data, bits, i, v)
	}
	return Features{bits: bits, n: len(values), data: data}, nil
}

// NewFeatures wraps already packed bytes.
func NewFeatures(bits uint8, n int, packed []byte) Features {
	return Features{bits: bits, n: n, data: packed}
}

// At returns the i-th value.
func (f Features) At(i int) uint8 {
	return getValue(f.data, f.bits, i)
}

// Len returns the number of values.
func (f Features) Len() int {
	return f.n
}

// Bits returns the quantization width.
func (f Features) Bits() uint8 {
	return f.bits
}

// Bytes returns the packed representation.
func (f Features) Bytes() []byte {
	return f.data
}

// Values unpacks every value.
func (f Features) Values() []uint8 {
	out := make([]uint8, f.n)
	for i := range out {
		out[i] = f.At(i)
	}
	return out
}

func getValue(data []byte, bits uint8, i int) uint8 {
	if bits == 8 {
		return data[i]
	}
	pos := i * int(bits)
	var v uint8
	for b := 0; b < int(bits); b++ {
		p := pos + b
		v = v<<1 | (data[p>>3]>>(7-uint(p&7)))&1
	}
	return v
}

func putValue(data []byte, bits uint8, i int, v uint8) {
	if bits == 8 {
		data[i] = v
		return
	}
	pos := i * int(bits)
	for b := 0; b < int(bits); b++ {
		p := pos + b
		mask := byte(1) << (7 - uint(p&7))
		if (v>>(int(bits)-1-b))&1 == 1 {
			data[p>>3] |= mask
		} else {
			data[p>>3] &^= mask
		}
	}
}

package dataset

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/YuminosukeSato/microforest/core/model"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// File layout (little-endian):
//
//	header: sample_count u32 | feature_count u16
//	record: id u32 | label u8 | packed features, ceil(bits*F/8) bytes
const (
	headerSize     = 6
	recordOverhead = 5
)

// RecordSize returns the on-disk size of one record.
func (d *Dataset) RecordSize() int {
	return recordOverhead + d.stride
}

// Release writes the binary file and frees sample memory.
// Releasing a released dataset is a no-op. An empty path reuses the recorded one.
func (d *Dataset) Release(path string) (err error) {
	defer errors.Recover(&err, "Dataset.Release")
	if !d.IsResident() {
		return nil
	}
	if path == "" {
		path = d.Path()
	}
	if path == "" {
		return errors.NewValidationError("path", "no backing file for release", path)
	}
	if err := d.writeFile(path); err != nil {
		return err
	}
	d.free()
	d.residency.Set(model.Released, path)

	log.GetLoggerWithName("dataset").Debug("dataset released",
		log.OperationKey, log.OperationRelease,
		log.PathKey, path,
		log.SamplesKey, d.count,
	)
	return nil
}

func (d *Dataset) writeFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("create directory", dir, err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.NewIOError("create", tmp, err)
	}
	w := bufio.NewWriter(f)
	if _, err := d.WriteTo(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.NewIOError("write", tmp, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.NewIOError("flush", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.NewIOError("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewIOError("rename", path, err)
	}
	return nil
}

// WriteTo serializes the resident samples.
func (d *Dataset) WriteTo(w io.Writer) (int64, error) {
	if err := d.residency.Require("Dataset.WriteTo"); err != nil {
		return 0, err
	}
	var n int64
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(d.ids)))
	binary.LittleEndian.PutUint16(hdr[4:6], uint16(d.numFeatures))
	k, err := w.Write(hdr[:])
	n += int64(k)
	if err != nil {
		return n, err
	}

	rec := make([]byte, d.RecordSize())
	for i, id := range d.ids {
		binary.LittleEndian.PutUint32(rec[0:4], id)
		rec[4] = d.labels[i]
		copy(rec[recordOverhead:], d.data[i*d.stride:(i+1)*d.stride])
		k, err := w.Write(rec)
		n += int64(k)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Load reads the whole binary file into memory.
// Loading a resident dataset is a no-op. An empty path reuses the recorded one.
func (d *Dataset) Load(path string) (err error) {
	defer errors.Recover(&err, "Dataset.Load")
	if d.IsResident() {
		return nil
	}
	if path == "" {
		path = d.Path()
	}
	_, err = d.readFile(path, nil)
	if err != nil {
		return err
	}
	d.residency.Set(model.Resident, path)

	log.GetLoggerWithName("dataset").Debug("dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.PathKey, path,
		log.SamplesKey, d.count,
	)
	return nil
}

// LoadSubset reads only the records whose id is in ids, in one sequential pass.
// ids must be sorted ascending; duplicates are loaded once. The returned count
// is the number of requested ids not present in the file.
func (d *Dataset) LoadSubset(path string, ids []uint32) (*Dataset, int, error) {
	if !sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }) {
		return nil, 0, errors.Wrapf(errors.ErrSubsetUnsorted, "load subset of %s", path)
	}
	if path == "" {
		path = d.Path()
	}
	sub, err := New(d.numFeatures, d.bits)
	if err != nil {
		return nil, 0, err
	}
	sub.numLabels = d.numLabels
	found, err := sub.readFile(path, ids)
	if err != nil {
		return nil, 0, err
	}
	unique := 0
	for i := range ids {
		if i == 0 || ids[i] != ids[i-1] {
			unique++
		}
	}
	sub.residency.Set(model.Resident, "")
	return sub, unique - found, nil
}

// readFile appends records from path; when want is non-nil only ids in want
// (sorted) are kept. It returns the number of records kept.
func (d *Dataset) readFile(path string, want []uint32) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.NewIOError("open", path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, errors.NewFormatError("read header", path, headerSize, "truncated")
	}
	count := int(binary.LittleEndian.Uint32(hdr[0:4]))
	features := int(binary.LittleEndian.Uint16(hdr[4:6]))
	if features != d.numFeatures {
		return 0, errors.NewFormatError("read header", path, d.numFeatures, features)
	}

	if want == nil {
		d.ids = make([]uint32, 0, count)
		d.labels = make([]uint8, 0, count)
		d.data = make([]byte, 0, count*d.stride)
		d.index = make(map[uint32]int, count)
	}

	rec := make([]byte, d.RecordSize())
	kept := 0
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			d.free()
			return 0, errors.NewFormatError("read record", path, count, i)
		}
		id := binary.LittleEndian.Uint32(rec[0:4])
		if rec[4] > MaxLabel {
			d.free()
			return 0, errors.NewFormatError("read record label", path, "<= 254", rec[4])
		}
		if want != nil {
			j := sort.Search(len(want), func(k int) bool { return want[k] >= id })
			if j == len(want) || want[j] != id {
				continue
			}
			if _, dup := d.index[id]; dup {
				continue
			}
		}
		packed := make([]byte, d.stride)
		copy(packed, rec[recordOverhead:])
		d.addPacked(id, rec[4], packed)
		kept++
	}
	d.count = len(d.ids)
	return kept, nil
}

// ReadHeader returns the sample and feature counts recorded in a dataset file.
func ReadHeader(path string) (samples, features int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.NewIOError("open", path, err)
	}
	defer f.Close()
	var hdr [headerSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, 0, errors.NewFormatError("read header", path, headerSize, "truncated")
	}
	return int(binary.LittleEndian.Uint32(hdr[0:4])), int(binary.LittleEndian.Uint16(hdr[4:6])), nil
}

// Open creates a released dataset handle bound to an existing file.
// Call Load (or Acquire) before touching samples. The bit width is not stored
// in the file and comes from the configuration artifact.
func Open(path string, bits uint8) (*Dataset, error) {
	samples, features, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	d, err := New(features, bits)
	if err != nil {
		return nil, err
	}
	d.count = samples
	d.residency.Set(model.Released, path)
	return d, nil
}

// Acquire makes d resident for the duration of fn. If d was released on
// entry it is released again on every exit path, including errors and panics.
func Acquire(d *Dataset, fn func(*Dataset) error) error {
	wasReleased := !d.IsResident()
	if wasReleased {
		if err := d.Load(""); err != nil {
			return err
		}
	}
	return errors.Guard("dataset.Acquire", func() error { return fn(d) }, func() error {
		if !wasReleased {
			return nil
		}
		// The file on disk is unchanged, so only the memory is dropped.
		d.free()
		d.residency.Set(model.Released, "")
		return nil
	})
}

// LoadFile opens and loads a dataset file in one step.
func LoadFile(path string, bits uint8) (*Dataset, error) {
	d, err := Open(path, bits)
	if err != nil {
		return nil, err
	}
	if err := d.Load(path); err != nil {
		return nil, err
	}
	return d, nil
}

package forest

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// StreamPredictor evaluates a forest file without loading it, reading one
// node word per step. It is not safe for concurrent use.
type StreamPredictor struct {
	file      *os.File
	path      string
	layout    tree.Layout
	bits      uint8
	numLabels int
	threshold float64

	// offsets[i] is the file offset of tree i's first node word.
	offsets []int64
	counts  []uint32
	cache   *bigcache.BigCache

	reads int64
}

// StreamOption configures a StreamPredictor.
type StreamOption func(*StreamPredictor) error

// WithThreshold sets the consensus threshold applied to votes.
func WithThreshold(threshold float64) StreamOption {
	return func(s *StreamPredictor) error {
		s.threshold = threshold
		return nil
	}
}

// WithNodeCache keeps recently read node words in a bigcache of at most
// sizeMB megabytes.
func WithNodeCache(sizeMB int) StreamOption {
	return func(s *StreamPredictor) error {
		cfg := bigcache.DefaultConfig(10 * time.Minute)
		cfg.Shards = 16
		cfg.MaxEntriesInWindow = 4096
		cfg.MaxEntrySize = wordSize
		cfg.HardMaxCacheSize = sizeMB
		cfg.Verbose = false
		cache, err := bigcache.New(context.Background(), cfg)
		if err != nil {
			return errors.Wrap(err, "create node cache")
		}
		s.cache = cache
		return nil
	}
}

// OpenStream indexes the tree headers of a forest file. Node words are read
// on demand by Predict.
func OpenStream(path string, layout tree.Layout, bits uint8, numLabels int, opts ...StreamOption) (*StreamPredictor, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIOError("open", path, err)
	}
	s := &StreamPredictor{file: file, path: path, layout: layout, bits: bits, numLabels: numLabels}
	if err := s.index(); err != nil {
		_ = file.Close()
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *StreamPredictor) index() error {
	var hdr [fileHeaderSize]byte
	if _, err := io.ReadFull(s.file, hdr[:]); err != nil {
		return errors.NewFormatError("read header", s.path, fileHeaderSize, "truncated")
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != Magic {
		return errors.NewFormatError("check magic", s.path, hexWord(Magic), hexWord(magic))
	}
	count := int(hdr[4])

	info, err := s.file.Stat()
	if err != nil {
		return errors.NewIOError("stat", s.path, err)
	}
	size := info.Size()

	pos := int64(fileHeaderSize)
	var th [treeHeaderSize]byte
	for k := 0; k < count; k++ {
		if _, err := s.file.ReadAt(th[:], pos); err != nil {
			return errors.NewFormatError("read tree header", s.path, count, k)
		}
		nodes := binary.LittleEndian.Uint32(th[1:5])
		start := pos + treeHeaderSize
		end := start + int64(nodes)*wordSize
		if end > size {
			return errors.NewFormatError("read tree "+itoa(int(th[0])), s.path, end, size)
		}
		s.offsets = append(s.offsets, start)
		s.counts = append(s.counts, nodes)
		pos = end
	}
	return nil
}

// Len returns the number of trees in the file.
func (s *StreamPredictor) Len() int {
	return len(s.offsets)
}

// Reads returns how many node words were read from the file.
func (s *StreamPredictor) Reads() int64 {
	return s.reads
}

func (s *StreamPredictor) node(t int, idx uint32) (tree.Node, error) {
	var key string
	if s.cache != nil {
		key = strconv.Itoa(t) + ":" + strconv.FormatUint(uint64(idx), 10)
		if b, err := s.cache.Get(key); err == nil && len(b) == wordSize {
			return s.layout.Unpack(binary.LittleEndian.Uint32(b)), nil
		}
	}
	if idx >= s.counts[t] {
		return tree.Node{}, errors.NewFormatError("read node", s.path, s.counts[t], idx)
	}
	if _, err := s.file.Seek(s.offsets[t]+int64(idx)*wordSize, io.SeekStart); err != nil {
		return tree.Node{}, errors.NewIOError("seek", s.path, err)
	}
	var buf [wordSize]byte
	if _, err := io.ReadFull(s.file, buf[:]); err != nil {
		return tree.Node{}, errors.NewIOError("read node", s.path, err)
	}
	s.reads++
	if s.cache != nil {
		_ = s.cache.Set(key, buf[:])
	}
	return s.layout.Unpack(binary.LittleEndian.Uint32(buf[:])), nil
}

// predictTree walks tree t from the root.
func (s *StreamPredictor) predictTree(t int, feat dataset.Features) (uint8, error) {
	idx := uint32(0)
	for steps := uint32(0); steps < s.counts[t]; steps++ {
		n, err := s.node(t, idx)
		if err != nil {
			return tree.UnknownLabel, err
		}
		if n.IsLeaf {
			return n.Label, nil
		}
		if feat.At(int(n.Feature)) <= tree.ThresholdValue(s.bits, n.Slot) {
			idx = n.Left
		} else {
			idx = n.Left + 1
		}
	}
	return tree.UnknownLabel, nil
}

// PredictSample votes over every tree in the file and applies the threshold.
// The result equals Forest.PredictSample on the loaded forest.
func (s *StreamPredictor) PredictSample(feat dataset.Features) (Vote, error) {
	counts := make([]int, s.numLabels)
	total := 0
	for t := range s.offsets {
		label, err := s.predictTree(t, feat)
		if err != nil {
			return Vote{Label: tree.UnknownLabel}, err
		}
		if int(label) >= len(counts) {
			continue
		}
		counts[label]++
		total++
	}
	return applyThreshold(tally(counts, total), s.threshold), nil
}

// Close releases the file and the node cache.
func (s *StreamPredictor) Close() error {
	var cerr error
	if s.cache != nil {
		cerr = s.cache.Close()
	}
	if err := s.file.Close(); err != nil {
		return errors.NewIOError("close", s.path, err)
	}
	return cerr
}

package forest

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// Forest file layout (little-endian):
//
//	header: magic u32 | tree_count u8
//	tree:   tree_index u8 | node_count u32 | node_count packed u32 words
const (
	Magic          uint32 = 0x54524545
	fileHeaderSize        = 5
	treeHeaderSize        = 5
	wordSize              = 4
)

// Save computes the node layout, stores it in f.Layout and writes every
// tree to path. All trees must be resident.
func (f *Forest) Save(path string) error {
	for i, t := range f.Trees {
		if t == nil {
			return errors.NewStateError("Forest.Save", "tree "+itoa(i)+" released")
		}
	}
	layout, err := f.ComputeLayout()
	if err != nil {
		return err
	}
	if err := writeTrees(path, layout, f.Trees); err != nil {
		return err
	}
	f.Layout = layout
	log.GetLoggerWithName("forest").Info("forest saved",
		log.PathKey, path,
		log.NumTreesKey, len(f.Trees),
		"layout.bits", layout.Total(),
	)
	return nil
}

// writeTrees writes a forest file atomically through a temporary file.
func writeTrees(path string, layout tree.Layout, trees []*tree.Tree) (err error) {
	if len(trees) > MaxTrees {
		return errors.NewCapacityError("trees", MaxTrees, len(trees))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("create directory", dir, err)
		}
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return errors.NewIOError("create", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
		}
	}()

	w := bufio.NewWriter(file)
	var hdr [fileHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	hdr[4] = uint8(len(trees))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.NewIOError("write", tmp, err)
	}
	for _, t := range trees {
		if t.Index > MaxTrees {
			return errors.NewCapacityError("tree index", MaxTrees, t.Index)
		}
		var th [treeHeaderSize]byte
		th[0] = uint8(t.Index)
		binary.LittleEndian.PutUint32(th[1:5], uint32(len(t.Nodes)))
		if _, err := w.Write(th[:]); err != nil {
			return errors.NewIOError("write", tmp, err)
		}
		var buf [wordSize]byte
		for i, n := range t.Nodes {
			word, err := layout.Pack(n)
			if err != nil {
				return errors.Wrapf(err, "tree %d node %d", t.Index, i)
			}
			binary.LittleEndian.PutUint32(buf[:], word)
			if _, err := w.Write(buf[:]); err != nil {
				return errors.NewIOError("write", tmp, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return errors.NewIOError("flush", tmp, err)
	}
	if err := file.Close(); err != nil {
		return errors.NewIOError("close", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewIOError("rename", path, err)
	}
	return nil
}

// Load reads a forest file written with layout. The quantization width and
// label count are not stored in the file and come from the configuration
// artifact.
func Load(path string, layout tree.Layout, bits uint8, numLabels int) (*Forest, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	trees, err := readTrees(path, layout, bits)
	if err != nil {
		return nil, err
	}
	f := &Forest{
		Trees:     trees,
		Layout:    layout,
		NumLabels: numLabels,
		Bits:      bits,
	}
	if err := f.Validate(); err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return f, nil
}

func readTrees(path string, layout tree.Layout, bits uint8) ([]*tree.Tree, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIOError("open", path, err)
	}
	defer file.Close()
	r := bufio.NewReader(file)

	var hdr [fileHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.NewFormatError("read header", path, fileHeaderSize, "truncated")
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != Magic {
		return nil, errors.NewFormatError("check magic", path, hexWord(Magic), hexWord(magic))
	}
	count := int(hdr[4])

	trees := make([]*tree.Tree, 0, count)
	for k := 0; k < count; k++ {
		var th [treeHeaderSize]byte
		if _, err := io.ReadFull(r, th[:]); err != nil {
			return nil, errors.NewFormatError("read tree header", path, count, k)
		}
		t := tree.New(int(th[0]), bits)
		nodes := binary.LittleEndian.Uint32(th[1:5])
		t.Nodes = make([]tree.Node, nodes)
		var buf [wordSize]byte
		for i := range t.Nodes {
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, errors.NewFormatError("read tree "+itoa(t.Index), path, nodes, i)
			}
			t.Nodes[i] = layout.Unpack(binary.LittleEndian.Uint32(buf[:]))
		}
		trees = append(trees, t)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, errors.NewFormatError("check trailing bytes", path, "end of file", "extra data")
	}
	return trees, nil
}

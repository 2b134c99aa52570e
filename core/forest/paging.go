package forest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/microforest/core/bagging"
	"github.com/YuminosukeSato/microforest/core/dataset"
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/core/tree"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

// Kind names the resource a restore is asked to rebuild.
type Kind int

const (
	// KindTree is a tree whose paged file is missing or unreadable.
	KindTree Kind = iota
)

func (k Kind) String() string {
	if k == KindTree {
		return "tree"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// RestoreFunc rebuilds a resource that could not be loaded.
type RestoreFunc func(kind Kind, treeIndex int) (*tree.Tree, error)

type pager struct {
	dir     string
	layout  tree.Layout
	files   map[int]string
	restore RestoreFunc
}

// SetRestore installs the callback used when a paged tree cannot be read.
func (f *Forest) SetRestore(fn RestoreFunc) {
	f.ensurePager()
	f.pager.restore = fn
}

func (f *Forest) ensurePager() {
	if f.pager == nil {
		f.pager = &pager{files: make(map[int]string)}
	}
}

// TreeResident reports whether tree i is in memory.
func (f *Forest) TreeResident(i int) bool {
	return i >= 0 && i < len(f.Trees) && f.Trees[i] != nil
}

// TreePath returns the file a released tree was written to.
func TreePath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("tree_%03d.bin", i))
}

// ReleaseTree writes tree i to its own file under dir and drops it from
// memory. Releasing a released tree is a no-op.
func (f *Forest) ReleaseTree(i int, dir string) error {
	if i < 0 || i >= len(f.Trees) {
		return errors.NewValidationError("tree", "index out of range", i)
	}
	if f.Trees[i] == nil {
		return nil
	}
	f.ensurePager()
	if f.pager.layout == (tree.Layout{}) {
		layout, err := f.ComputeLayout()
		if err != nil {
			return err
		}
		f.pager.layout = layout
	}
	path := TreePath(dir, i)
	if err := writeTrees(path, f.pager.layout, []*tree.Tree{f.Trees[i]}); err != nil {
		return err
	}
	f.pager.dir = dir
	f.pager.files[i] = path
	f.Trees[i] = nil
	log.GetLoggerWithName("forest").Debug("tree released",
		log.OperationKey, log.OperationRelease,
		log.TreeIndexKey, i,
		log.PathKey, path,
	)
	return nil
}

// LoadTree reads tree i back into memory. When the file is missing or
// corrupt the restore callback rebuilds it; without one the read error is
// returned. Loading a resident tree is a no-op.
func (f *Forest) LoadTree(i int) error {
	if i < 0 || i >= len(f.Trees) {
		return errors.NewValidationError("tree", "index out of range", i)
	}
	if f.Trees[i] != nil {
		return nil
	}
	if f.pager == nil {
		return errors.NewStateError("Forest.LoadTree", "never released")
	}

	t, err := f.readPaged(i)
	if err == nil {
		f.Trees[i] = t
		return nil
	}
	if f.pager.restore == nil {
		return err
	}

	logger := log.GetLoggerWithName("forest")
	logger.Warn("tree file unreadable, restoring",
		log.OperationKey, log.OperationRestore,
		log.TreeIndexKey, i,
		log.ErrorKey, err,
	)
	t, rerr := f.pager.restore(KindTree, i)
	if rerr != nil {
		return errors.Wrapf(rerr, "restore tree %d", i)
	}
	f.Trees[i] = t
	return nil
}

func (f *Forest) readPaged(i int) (*tree.Tree, error) {
	path, ok := f.pager.files[i]
	if !ok {
		return nil, errors.NewStateError("Forest.LoadTree", "tree "+itoa(i)+" has no paged file")
	}
	trees, err := readTrees(path, f.pager.layout, f.Bits)
	if err != nil {
		return nil, err
	}
	if len(trees) != 1 || trees[0].Index != i {
		return nil, errors.NewFormatError("read paged tree", path, i, len(trees))
	}
	if err := trees[0].Validate(); err != nil {
		return nil, err
	}
	return trees[0], nil
}

// RemovePaged deletes the paged tree files.
func (f *Forest) RemovePaged() error {
	if f.pager == nil {
		return nil
	}
	for i, path := range f.pager.files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewIOError("remove", path, err)
		}
		delete(f.pager.files, i)
	}
	return nil
}

// DefaultRestore rebuilds a tree from scratch: it regenerates the bag from
// (seed, tree index, nonce), loads only the bagged records from the base
// dataset file and grows the tree with the forest's parameters. The result
// is identical to the original tree.
func DefaultRestore(f *Forest, base *dataset.Dataset, pool []uint32, cfg bagging.Config, r *rng.RNG, opts ...tree.Option) RestoreFunc {
	return func(kind Kind, i int) (*tree.Tree, error) {
		if kind != KindTree {
			return nil, errors.NewValidationError("kind", "unsupported restore", kind.String())
		}
		if i < 0 || i >= len(f.Bags) {
			return nil, errors.NewValidationError("tree", "no bag recorded", i)
		}
		rec := f.Bags[i]
		bag, err := bagging.Regenerate(pool, cfg, rec.Tree, rec.Nonce, rec.Perturbed, r)
		if err != nil {
			return nil, err
		}
		if bag.Hash != rec.Hash {
			return nil, errors.NewFormatError("regenerate bag", base.Path(), rec.Hash, bag.Hash)
		}

		ids := bag.Unique()
		sub, missing, err := base.LoadSubset(base.Path(), ids)
		if err != nil {
			return nil, err
		}
		if missing > 0 {
			return nil, errors.NewFormatError("load bag subset", base.Path(), len(ids), len(ids)-missing)
		}
		sub.SetNumLabels(f.NumLabels)

		t, _, err := tree.NewBuilder(f.Params, opts...).Build(rec.Tree, sub, bag.IDs, TreeRNG(r, rec.Tree, rec.Nonce))
		if err != nil {
			return nil, err
		}
		log.GetLoggerWithName("forest").Info("tree restored",
			log.OperationKey, log.OperationRestore,
			log.TreeIndexKey, i,
			log.BagSizeKey, len(bag.IDs),
		)
		return t, nil
	}
}

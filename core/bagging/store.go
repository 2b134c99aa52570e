package bagging

import (
	"sort"
	"sync"

	"github.com/YuminosukeSato/microforest/pkg/errors"
)

// Record is the persisted membership of one bag.
type Record struct {
	Tree      int      `json:"tree"`
	Nonce     uint64   `json:"nonce"`
	Hash      uint64   `json:"hash"`
	Perturbed bool     `json:"perturbed,omitempty"`
	IDs       []uint32 `json:"ids"`
}

// NewRecord captures the distinct ids of a bag.
func NewRecord(b Bag) Record {
	return Record{Tree: b.Tree, Nonce: b.Nonce, Hash: b.Hash, Perturbed: b.Perturbed, IDs: b.Unique()}
}

// Store records bag membership per tree.
type Store interface {
	Put(rec Record) error
	Get(tree int) (Record, error)
	Delete(tree int) error
	Trees() ([]int, error)
	Close() error
}

// ErrBagNotFound is returned by Store.Get for an unknown tree.
var ErrBagNotFound = errors.New("bag not found")

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	bags map[int]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bags: make(map[int]Record)}
}

func (m *MemoryStore) Put(rec Record) error {
	ids := make([]uint32, len(rec.IDs))
	copy(ids, rec.IDs)
	rec.IDs = ids
	m.mu.Lock()
	m.bags[rec.Tree] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(tree int) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.bags[tree]
	if !ok {
		return Record{}, errors.Wrapf(ErrBagNotFound, "tree %d", tree)
	}
	return rec, nil
}

func (m *MemoryStore) Delete(tree int) error {
	m.mu.Lock()
	delete(m.bags, tree)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Trees() ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int, 0, len(m.bags))
	for t := range m.bags {
		out = append(out, t)
	}
	sort.Ints(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

// SaveAll writes every bag to s, replacing earlier records. Records of
// trees not in bags (left over from a larger forest) are deleted.
func SaveAll(s Store, bags []Bag) error {
	saved := make(map[int]struct{}, len(bags))
	for _, b := range bags {
		if err := s.Put(NewRecord(b)); err != nil {
			return errors.Wrapf(err, "store bag %d", b.Tree)
		}
		saved[b.Tree] = struct{}{}
	}
	trees, err := s.Trees()
	if err != nil {
		return errors.Wrap(err, "list stored bags")
	}
	for _, t := range trees {
		if _, ok := saved[t]; ok {
			continue
		}
		if err := s.Delete(t); err != nil {
			return errors.Wrapf(err, "delete stale bag %d", t)
		}
	}
	return nil
}

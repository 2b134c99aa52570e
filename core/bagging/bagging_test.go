package bagging

import (
	"reflect"
	"sort"
	"testing"

	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

func pool(n int) []uint32 {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i * 3)
	}
	return ids
}

func TestMakeBags(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		poolSize int
		wantSize int
	}{
		{"bootstrap", Config{NumTrees: 10, Bootstrap: true}, 100, 100},
		{"without replacement", Config{NumTrees: 10, Ratio: 0.632}, 100, 63},
		{"full ratio", Config{NumTrees: 3, Ratio: 1}, 20, 20},
		{"tiny ratio", Config{NumTrees: 3, Ratio: 0.01}, 20, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pool(tt.poolSize)
			bags, err := MakeBags(p, tt.cfg, rng.New(37))
			if err != nil {
				t.Fatalf("MakeBags() error = %v", err)
			}
			if len(bags) != tt.cfg.NumTrees {
				t.Fatalf("len(bags) = %d, want %d", len(bags), tt.cfg.NumTrees)
			}
			for i, b := range bags {
				if b.Tree != i {
					t.Errorf("bag %d has Tree %d", i, b.Tree)
				}
				if len(b.IDs) != tt.wantSize {
					t.Errorf("bag %d size = %d, want %d", i, len(b.IDs), tt.wantSize)
				}
				unique := b.Unique()
				drawn := make(map[uint32]bool, len(unique))
				for _, id := range unique {
					drawn[id] = true
					if !b.InBag(id) {
						t.Errorf("bag %d: drawn id %d reported out of bag", i, id)
					}
				}
				for _, id := range b.OOB {
					if drawn[id] {
						t.Errorf("bag %d: OOB id %d also in bag", i, id)
					}
				}
				if len(unique)+len(b.OOB) != len(p) {
					t.Errorf("bag %d: unique %d + oob %d != pool %d", i, len(unique), len(b.OOB), len(p))
				}
				if !tt.cfg.Bootstrap && len(unique) != len(b.IDs) {
					t.Errorf("bag %d drawn without replacement has duplicates", i)
				}
				if !sort.SliceIsSorted(b.OOB, func(x, y int) bool { return b.OOB[x] < b.OOB[y] }) {
					t.Errorf("bag %d OOB not sorted", i)
				}
			}
		})
	}
}

func TestMakeBagsDeterministic(t *testing.T) {
	cfg := Config{NumTrees: 8, Bootstrap: true}
	a, err := MakeBags(pool(50), cfg, rng.New(7))
	if err != nil {
		t.Fatal(err)
	}
	b, err := MakeBags(pool(50), cfg, rng.New(7))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different bags")
	}

	c, err := MakeBags(pool(50), cfg, rng.New(8))
	if err != nil {
		t.Fatal(err)
	}
	if reflect.DeepEqual(a[0].IDs, c[0].IDs) {
		t.Error("different seeds produced identical first bag")
	}
}

func TestRegenerate(t *testing.T) {
	p := pool(40)
	r := rng.New(99)
	cfg := Config{NumTrees: 6, Ratio: 0.5}
	bags, err := MakeBags(p, cfg, r)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range bags {
		got, err := Regenerate(p, cfg, b.Tree, b.Nonce, b.Perturbed, r)
		if err != nil {
			t.Fatalf("Regenerate(%d) error = %v", b.Tree, err)
		}
		if !reflect.DeepEqual(got, b) {
			t.Errorf("Regenerate(%d) differs from original bag", b.Tree)
		}
	}
}

func TestCollisionRetries(t *testing.T) {
	// Two ids drawn twice with replacement give only three distinct bags,
	// so later trees must retry and finally be perturbed.
	p := []uint32{4, 9}
	cfg := Config{NumTrees: 6, Bootstrap: true}
	r := rng.New(1)
	bags, err := MakeBags(p, cfg, r)
	if err != nil {
		t.Fatal(err)
	}
	if len(bags) != 6 {
		t.Fatalf("len(bags) = %d, want 6", len(bags))
	}

	perturbed := 0
	for _, b := range bags {
		if b.Perturbed {
			perturbed++
			if b.Nonce != MaxRetries {
				t.Errorf("perturbed bag %d nonce = %d, want %d", b.Tree, b.Nonce, MaxRetries)
			}
		}
		if b.Nonce > MaxRetries {
			t.Errorf("bag %d nonce %d exceeds retry limit", b.Tree, b.Nonce)
		}
		got, err := Regenerate(p, cfg, b.Tree, b.Nonce, b.Perturbed, r)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, b) {
			t.Errorf("Regenerate(%d) differs", b.Tree)
		}
	}
	if perturbed < 3 {
		t.Errorf("perturbed = %d, want at least 3", perturbed)
	}
}

// 20サンプルのブートストラップでOOB率は (1-1/20)^20 ≈ 0.358 に近づく
func TestBootstrapOOBFraction(t *testing.T) {
	const (
		seeds = 2000
		trees = 5
	)
	ids := pool(20)
	cfg := Config{NumTrees: trees, Bootstrap: true}
	total := 0.0
	for seed := uint64(0); seed < seeds; seed++ {
		bags, err := MakeBags(ids, cfg, rng.New(seed))
		if err != nil {
			t.Fatal(err)
		}
		for _, b := range bags {
			total += float64(len(b.OOB)) / float64(len(ids))
		}
	}
	mean := total / (seeds * trees)
	if mean < 0.35 || mean > 0.40 {
		t.Errorf("mean OOB fraction = %.4f, want within [0.35, 0.40]", mean)
	}
}

func TestMakeBagsErrors(t *testing.T) {
	tests := []struct {
		name string
		pool []uint32
		cfg  Config
		want func(error) bool
	}{
		{"no trees", pool(5), Config{NumTrees: 0, Bootstrap: true}, errors.IsValidation},
		{"too many trees", pool(5), Config{NumTrees: 256, Bootstrap: true}, errors.IsValidation},
		{"bad ratio", pool(5), Config{NumTrees: 2, Ratio: 1.5}, errors.IsValidation},
		{"empty pool", nil, Config{NumTrees: 2, Bootstrap: true}, func(err error) bool {
			return errors.Is(err, errors.ErrEmptyData)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MakeBags(tt.pool, tt.cfg, rng.New(1))
			if err == nil || !tt.want(err) {
				t.Errorf("MakeBags() error = %v", err)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	bags, err := MakeBags(pool(30), Config{NumTrees: 3, Bootstrap: true}, rng.New(5))
	if err != nil {
		t.Fatal(err)
	}
	s := NewMemoryStore()
	defer s.Close()
	if err := SaveAll(s, bags); err != nil {
		t.Fatal(err)
	}

	trees, _ := s.Trees()
	if !reflect.DeepEqual(trees, []int{0, 1, 2}) {
		t.Errorf("Trees() = %v", trees)
	}
	rec, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rec.IDs, bags[1].Unique()) || rec.Hash != bags[1].Hash {
		t.Error("stored record does not match bag")
	}

	if err := s.Delete(1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(1); !errors.Is(err, ErrBagNotFound) {
		t.Errorf("Get after Delete error = %v", err)
	}
}

func TestSaveAllDropsStaleTrees(t *testing.T) {
	s := NewMemoryStore()
	big, err := MakeBags(pool(30), Config{NumTrees: 5, Bootstrap: true}, rng.New(5))
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveAll(s, big); err != nil {
		t.Fatal(err)
	}
	small, err := MakeBags(pool(30), Config{NumTrees: 2, Bootstrap: true}, rng.New(6))
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveAll(s, small); err != nil {
		t.Fatal(err)
	}

	trees, _ := s.Trees()
	if !reflect.DeepEqual(trees, []int{0, 1}) {
		t.Errorf("Trees() = %v, want [0 1]", trees)
	}
	rec, err := s.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Hash != small[1].Hash {
		t.Error("record 1 was not replaced")
	}
}

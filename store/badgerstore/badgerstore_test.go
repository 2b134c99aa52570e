package badgerstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/microforest/core/bagging"
	"github.com/YuminosukeSato/microforest/core/rng"
	"github.com/YuminosukeSato/microforest/pkg/errors"
)

func makeBags(t *testing.T) []bagging.Bag {
	t.Helper()
	pool := make([]uint32, 40)
	for i := range pool {
		pool[i] = uint32(i)
	}
	bags, err := bagging.MakeBags(pool, bagging.Config{NumTrees: 3, Bootstrap: true}, rng.New(11))
	require.NoError(t, err)
	return bags
}

func TestStoreInMemory(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	bags := makeBags(t)
	require.NoError(t, bagging.SaveAll(s, bags))

	trees, err := s.Trees()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, trees)

	rec, err := s.Get(2)
	require.NoError(t, err)
	assert.Equal(t, bagging.NewRecord(bags[2]), rec)

	require.NoError(t, s.Delete(2))
	_, err = s.Get(2)
	assert.True(t, errors.Is(err, bagging.ErrBagNotFound))
}

func TestStorePersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bags")
	bags := makeBags(t)

	s, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, bagging.SaveAll(s, bags))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, bags[1].Hash, rec.Hash)
	assert.Equal(t, bags[1].Unique(), rec.IDs)
}

func TestSaveAllReplacesLargerForest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bags")
	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, bagging.SaveAll(s, makeBags(t)))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	bags := makeBags(t)[:1]
	require.NoError(t, bagging.SaveAll(s, bags))

	trees, err := s.Trees()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, trees)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

// Package badgerstore persists bag membership in a Badger database so a
// training run's bags can be inspected or reused after the process exits.
package badgerstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/YuminosukeSato/microforest/core/bagging"
	"github.com/YuminosukeSato/microforest/pkg/errors"
	"github.com/YuminosukeSato/microforest/pkg/log"
)

var bagPrefix = []byte("bag/")

// Config opens a Store.
type Config struct {
	// Path is the database directory; ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     log.Logger
}

type badgerLogger struct {
	logger log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a bagging.Store backed by Badger.
type Store struct {
	db *badger.DB
}

var _ bagging.Store = (*Store)(nil)

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.NewValidationError("bags_db", "path is required for a persistent store", cfg.Path)
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.NewIOError("create directory", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.NewIOError("open badger", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

func key(tree int) []byte {
	k := make([]byte, len(bagPrefix)+2)
	copy(k, bagPrefix)
	binary.BigEndian.PutUint16(k[len(bagPrefix):], uint16(tree))
	return k
}

// Put stores rec under its tree index, replacing any earlier record.
func (s *Store) Put(rec bagging.Record) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode bag record")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.Tree), val)
	})
}

// Get returns the record of one tree.
func (s *Store) Get(tree int) (bagging.Record, error) {
	var rec bagging.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(tree))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return bagging.Record{}, errors.Wrapf(bagging.ErrBagNotFound, "tree %d", tree)
	}
	if err != nil {
		return bagging.Record{}, errors.Wrapf(err, "get bag %d", tree)
	}
	return rec, nil
}

// Delete removes one tree's record.
func (s *Store) Delete(tree int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(tree))
	})
}

// Trees lists the stored tree indices in ascending order.
func (s *Store) Trees() ([]int, error) {
	var out []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = bagPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			out = append(out, int(binary.BigEndian.Uint16(k[len(bagPrefix):])))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list bags")
	}
	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

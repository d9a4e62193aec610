package registry

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// store is a thin key/value facade over an in-memory badger instance. It
// exists so the registry's tables (users, groups, files, seeder sets) are
// backed by a real transactional engine instead of bare Go maps, while
// staying lost-on-restart: badger is opened with InMemory(true), so nothing
// ever touches disk.
//
// Every call here is expected to run inside the single mutual-exclusion
// domain the registry keeps in Registry.mu — the store adds a storage
// engine, not a second concurrency model.
type store struct {
	db *badger.DB
}

func newStore() (*store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "registry: open in-memory store")
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

func (s *store) get(key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "registry: get %q", key)
	}
	return val, val != nil, nil
}

func (s *store) set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return errors.Wrapf(err, "registry: set %q", key)
}

func (s *store) delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	return errors.Wrapf(err, "registry: delete %q", key)
}

// scanPrefix returns every value whose key starts with prefix, in key order.
func (s *store) scanPrefix(prefix string) ([][]byte, error) {
	var out [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				out = append(out, append([]byte(nil), v...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "registry: scan %q", prefix)
	}
	return out, nil
}

// update runs fn as one badger read-write transaction, so a batch of writes
// to several keys commits atomically. Callers already hold Registry.mu.
func (s *store) update(fn func(txn *badger.Txn) error) error {
	return errors.Wrap(s.db.Update(fn), "registry: update")
}

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/blockberries/relayberry/types"
)

// BadgerDBBackend opens BadgerDB databases.
type BadgerDBBackend struct {
	// Logger receives badger's internal log output. Nil disables it.
	Logger badger.Logger
}

// Name returns the backend name.
func (BadgerDBBackend) Name() string { return BackendBadgerDB }

// Open opens or creates the database at path.
func (b BadgerDBBackend) Open(path string) (Handle, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithCompression(options.Snappy).
		WithLogger(b.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerDBHandle{db: db}, nil
}

type badgerDBHandle struct {
	db *badger.DB
}

func (h *badgerDBHandle) Get(key []byte) ([]byte, error) {
	var value []byte
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badgerdb get: %w", err)
	}
	return value, nil
}

func (h *badgerDBHandle) Put(key, value []byte) error {
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("badgerdb put: %w", err)
	}
	return nil
}

func (h *badgerDBHandle) Delete(key []byte) error {
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("badgerdb delete: %w", err)
	}
	return nil
}

func (h *badgerDBHandle) Has(key []byte) (bool, error) {
	err := h.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badgerdb has: %w", err)
	}
	return true, nil
}

func (h *badgerDBHandle) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badgerdb iterate: %w", err)
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *badgerDBHandle) Close() error {
	return h.db.Close()
}

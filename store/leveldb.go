package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/blockberries/relayberry/types"
)

// LevelDBBackend opens goleveldb databases.
type LevelDBBackend struct{}

// Name returns the backend name.
func (LevelDBBackend) Name() string { return BackendLevelDB }

// Open opens or creates the database at path.
func (LevelDBBackend) Open(path string) (Handle, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: false,
	})
	if err != nil {
		return nil, err
	}
	return &levelDBHandle{db: db}, nil
}

type levelDBHandle struct {
	db *leveldb.DB
}

func (h *levelDBHandle) Get(key []byte) ([]byte, error) {
	value, err := h.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	return value, nil
}

func (h *levelDBHandle) Put(key, value []byte) error {
	if err := h.db.Put(key, value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (h *levelDBHandle) Delete(key []byte) error {
	if err := h.db.Delete(key, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

func (h *levelDBHandle) Has(key []byte) (bool, error) {
	ok, err := h.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	return ok, nil
}

func (h *levelDBHandle) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := h.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		// The iterator reuses its buffers between steps.
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("leveldb iterate: %w", err)
	}
	return nil
}

func (h *levelDBHandle) Close() error {
	return h.db.Close()
}

// Package store implements the relay's durable key/value tables.
//
// Every logical table lives at its own backing path. Keys inside a table
// are prefixed with a one-character namespace so a table can host more than
// one key space. Values are CBOR encoded with no embedded schema version.
//
// By default the backing database is opened for each operation and closed
// again afterwards. Opens that fail because another opener holds the lock
// are retried with a fixed backoff; see RetryPolicy.
package store

import (
	"fmt"
)

// Backend names accepted by NewBackend.
const (
	BackendLevelDB  = "leveldb"
	BackendBadgerDB = "badgerdb"
)

// Handle is an open backing database.
// Get returns types.ErrNotFound when the key is missing.
type Handle interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)

	// Iterate calls fn for every key with the given prefix, in key order.
	// Iteration stops at the first error returned by fn.
	Iterate(prefix []byte, fn func(key, value []byte) error) error

	Close() error
}

// Backend opens handles on a path.
type Backend interface {
	Name() string
	Open(path string) (Handle, error)
}

// NewBackend returns the backend registered under name.
func NewBackend(name string) (Backend, error) {
	switch name {
	case BackendLevelDB, "":
		return LevelDBBackend{}, nil
	case BackendBadgerDB:
		return BadgerDBBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", name)
	}
}

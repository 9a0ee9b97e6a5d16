package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/relayberry/codec"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/types"
)

// Table names. Each table is configured with its own backing path.
const (
	TableRequests           = "requests"
	TableRemoteRequests     = "remote_requests"
	TableEvents             = "events"
	TableRemoteEvents       = "remote_events"
	TableSATPLocalRequests  = "satp_local_requests"
	TableSATPLocalStates    = "satp_local_states"
	TableSATPRemoteRequests = "satp_remote_requests"
	TableSATPRemoteStates   = "satp_remote_states"
)

// Namespace is the one-character key prefix separating key spaces inside a
// table.
type Namespace byte

// Namespaces.
const (
	NamespaceRecords Namespace = 'r'
	NamespaceIndex   Namespace = 'd'
)

// Options configures a Store.
type Options struct {
	Backend  Backend
	Retry    RetryPolicy
	HoldOpen bool
	Logger   *logging.Logger
	Metrics  metrics.Metrics
}

// DefaultOptions returns per-call LevelDB options with the default retry
// policy.
func DefaultOptions() Options {
	return Options{
		Backend: LevelDBBackend{},
		Retry:   DefaultRetryPolicy(),
	}
}

// Store is a typed view of one table in one namespace.
// It holds no cached records; every call reads or writes the backing
// database.
type Store struct {
	o  *opener
	ns Namespace
}

// New returns a store for table at path. Nothing is opened until the first
// operation.
func New(table, path string, opts Options) *Store {
	if opts.Backend == nil {
		opts.Backend = LevelDBBackend{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNopMetrics()
	}
	return &Store{
		o: &opener{
			table:    table,
			path:     path,
			backend:  opts.Backend,
			retry:    opts.Retry,
			holdOpen: opts.HoldOpen,
			logger:   opts.Logger.WithComponent("store").With(logging.Table(table)),
			metrics:  opts.Metrics,
		},
		ns: NamespaceRecords,
	}
}

// In returns a view of the same table in another namespace.
func (s *Store) In(ns Namespace) *Store {
	return &Store{o: s.o, ns: ns}
}

// Table returns the table name.
func (s *Store) Table() string {
	return s.o.table
}

// Close releases a held-open handle. It is a no-op in per-call mode.
func (s *Store) Close() error {
	return s.o.close()
}

func (s *Store) key(key string) []byte {
	k := make([]byte, 0, len(key)+1)
	k = append(k, byte(s.ns))
	return append(k, key...)
}

// do runs fn on an open handle and records metrics for op.
func (s *Store) do(op string, fn func(Handle) error) error {
	start := time.Now()
	err := s.o.with(fn)

	result := "ok"
	if err != nil {
		result = types.ErrorKind(err)
	}
	s.o.metrics.IncStoreOps(s.o.table, op, result)
	s.o.metrics.ObserveStoreLatency(s.o.table, op, time.Since(start))
	return err
}

// Set stores v under key and returns the previous raw value, or nil if the
// key was absent.
func (s *Store) Set(key string, v any) ([]byte, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}

	var prev []byte
	err = s.do("set", func(h Handle) error {
		k := s.key(key)
		old, err := h.Get(k)
		switch {
		case err == nil:
			prev = old
		case !errors.Is(err, types.ErrNotFound):
			return err
		}
		return h.Put(k, data)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: set %q: %w", s.o.table, key, err)
	}
	return prev, nil
}

// GetRaw returns the encoded value stored under key.
func (s *Store) GetRaw(key string) ([]byte, error) {
	var data []byte
	err := s.do("get", func(h Handle) error {
		var err error
		data, err = h.Get(s.key(key))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: get %q: %w", s.o.table, key, err)
	}
	return data, nil
}

// HasKey reports whether key is present.
func (s *Store) HasKey(key string) (bool, error) {
	var ok bool
	err := s.do("has", func(h Handle) error {
		var err error
		ok, err = h.Has(s.key(key))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%s: has %q: %w", s.o.table, key, err)
	}
	return ok, nil
}

// Delete removes key and returns its raw value.
func (s *Store) Delete(key string) ([]byte, error) {
	var data []byte
	err := s.do("delete", func(h Handle) error {
		k := s.key(key)
		var err error
		if data, err = h.Get(k); err != nil {
			return err
		}
		return h.Delete(k)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: delete %q: %w", s.o.table, key, err)
	}
	return data, nil
}

// Scan calls fn for every key in the store's namespace. Keys are passed
// without the namespace prefix.
func (s *Store) Scan(fn func(key string, raw []byte) error) error {
	err := s.do("scan", func(h Handle) error {
		return h.Iterate([]byte{byte(s.ns)}, func(k, v []byte) error {
			return fn(string(k[1:]), v)
		})
	})
	if err != nil {
		return fmt.Errorf("%s: scan: %w", s.o.table, err)
	}
	return nil
}

// Get decodes the value stored under key.
func Get[T any](s *Store, key string) (*T, error) {
	data, err := s.GetRaw(key)
	if err != nil {
		return nil, err
	}
	return Decode[T](s, key, data)
}

// Unset removes key and returns the value it held.
func Unset[T any](s *Store, key string) (*T, error) {
	data, err := s.Delete(key)
	if err != nil {
		return nil, err
	}
	return Decode[T](s, key, data)
}

// Decode decodes a raw value read through GetRaw or Scan.
func Decode[T any](s *Store, key string, data []byte) (*T, error) {
	v := new(T)
	if err := codec.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %s: %q: %w", types.ErrCorrupt, s.o.table, key, err)
	}
	return v, nil
}

package node

import (
	"errors"
	"fmt"

	"github.com/blockberries/relayberry/config"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/satp"
	"github.com/blockberries/relayberry/store"
)

// Stores holds every table of a relay.
type Stores struct {
	Requests       *store.Store
	RemoteRequests *store.Store
	Events         *store.Store
	RemoteEvents   *store.Store
	SATP           satp.Tables
}

// OpenStores builds the relay tables from the store config. In per-call
// mode nothing is opened until the first operation.
func OpenStores(cfg config.StoreConfig, logger *logging.Logger, m metrics.Metrics) (*Stores, error) {
	backend, err := store.NewBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	opts := store.Options{
		Backend: backend,
		Retry: store.RetryPolicy{
			MaxRetries: cfg.RetryCount,
			Backoff:    cfg.RetryBackoff.Duration(),
		},
		HoldOpen: cfg.HoldOpen,
		Logger:   logger,
		Metrics:  m,
	}
	open := func(table string) *store.Store {
		return store.New(table, cfg.Path(table), opts)
	}

	return &Stores{
		Requests:       open(store.TableRequests),
		RemoteRequests: open(store.TableRemoteRequests),
		Events:         open(store.TableEvents),
		RemoteEvents:   open(store.TableRemoteEvents),
		SATP: satp.Tables{
			LocalRequests:  open(store.TableSATPLocalRequests),
			LocalStates:    open(store.TableSATPLocalStates),
			RemoteRequests: open(store.TableSATPRemoteRequests),
			RemoteStates:   open(store.TableSATPRemoteStates),
		},
	}, nil
}

func (s *Stores) all() []*store.Store {
	return []*store.Store{
		s.Requests, s.RemoteRequests, s.Events, s.RemoteEvents,
		s.SATP.LocalRequests, s.SATP.LocalStates, s.SATP.RemoteRequests, s.SATP.RemoteStates,
	}
}

// Close releases held-open handles.
func (s *Stores) Close() error {
	var errs []error
	for _, st := range s.all() {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", st.Table(), err))
		}
	}
	return errors.Join(errs...)
}

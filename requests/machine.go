// Package requests tracks view requests from submission to delivery.
//
// Every operation is a read-modify-write of one durable RequestState record.
// Operations on the same request id are serialized inside the process;
// writers in other processes still race with last-write-wins.
package requests

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/store"
	"github.com/blockberries/relayberry/types"
)

const machineName = "requests"

// RemoteRequest is the routing record a serving relay keeps for a query it
// received, so the driver's answer can be sent back to the requester.
type RemoteRequest struct {
	Query      types.Query `cbor:"query"`
	ReceivedAt time.Time   `cbor:"received_at"`
}

// Machine is the view-request state machine.
type Machine struct {
	records *store.Store
	remote  *store.Store
	locks   *store.KeyLock
	logger  *logging.Logger
	metrics metrics.Metrics
}

// New returns a Machine over the requests and remote-requests tables.
func New(records, remote *store.Store, logger *logging.Logger, m metrics.Metrics) *Machine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	return &Machine{
		records: records,
		remote:  remote,
		locks:   store.NewKeyLock(),
		logger:  logger.WithComponent(machineName),
		metrics: m,
	}
}

// Create persists a new PendingAck record. The id must be unused.
func (m *Machine) Create(requestID string) (*types.RequestState, error) {
	if requestID == "" {
		return nil, types.WrapValidationError(types.ErrEmptyData, "request_id")
	}

	unlock := m.locks.Lock(requestID)
	defer unlock()

	exists, err := m.records.HasKey(requestID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, types.ProtocolErrorf("request %s already exists", requestID)
	}

	rec := &types.RequestState{RequestID: requestID, Status: types.StatusPendingAck}
	if _, err := m.records.Set(requestID, rec); err != nil {
		return nil, err
	}
	m.observe(rec)
	return rec, nil
}

// Get returns the current record.
func (m *Machine) Get(requestID string) (*types.RequestState, error) {
	rec, err := store.Get[types.RequestState](m.records, requestID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ProtocolErrorf("unknown request %s", requestID)
	}
	return rec, err
}

// List returns every record in the table.
func (m *Machine) List() ([]*types.RequestState, error) {
	var out []*types.RequestState
	err := m.records.Scan(func(key string, raw []byte) error {
		rec, err := store.Decode[types.RequestState](m.records, key, raw)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// MarkPending records the counterpart's acknowledgement. Records that have
// already moved past PendingAck are returned unchanged, since a fast
// answer may land before the ack is processed.
func (m *Machine) MarkPending(requestID string) (*types.RequestState, error) {
	return m.update(requestID, func(rec *types.RequestState) error {
		if rec.Status != types.StatusPendingAck {
			return errUnchanged
		}
		return advance(rec, types.StatusPending)
	})
}

// Fail moves the record to Error carrying msg.
func (m *Machine) Fail(requestID, msg string) (*types.RequestState, error) {
	return m.update(requestID, func(rec *types.RequestState) error {
		if err := advance(rec, types.StatusError); err != nil {
			return err
		}
		rec.View, rec.Error = nil, msg
		return nil
	})
}

// Deliver applies a view or error answering the request. The record must
// already exist. A record still at PendingAck passes through Pending first.
func (m *Machine) Deliver(payload *types.ViewPayload) (*types.RequestState, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return m.update(payload.RequestID, func(rec *types.RequestState) error {
		if rec.Status == types.StatusPendingAck {
			if err := advance(rec, types.StatusPending); err != nil {
				return err
			}
			m.observe(rec)
		}

		to := types.StatusCompleted
		if payload.IsError() {
			to = types.StatusError
		}
		if err := advance(rec, to); err != nil {
			return err
		}
		rec.View, rec.Error = payload.View, payload.Error
		return nil
	})
}

// RecordEvent stores an event delivered for a subscription's request
// record.
func (m *Machine) RecordEvent(payload *types.ViewPayload) (*types.RequestState, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return m.update(payload.RequestID, func(rec *types.RequestState) error {
		if err := advance(rec, types.StatusEventReceived); err != nil {
			return err
		}
		rec.View, rec.Error = payload.View, payload.Error
		return nil
	})
}

// MarkEventWritten records that every publication target accepted the
// last event.
func (m *Machine) MarkEventWritten(requestID string) (*types.RequestState, error) {
	return m.update(requestID, func(rec *types.RequestState) error {
		return advance(rec, types.StatusEventWritten)
	})
}

// MarkEventWriteError records that publishing the last event failed.
func (m *Machine) MarkEventWriteError(requestID, msg string) (*types.RequestState, error) {
	return m.update(requestID, func(rec *types.RequestState) error {
		if err := advance(rec, types.StatusEventWriteError); err != nil {
			return err
		}
		rec.View, rec.Error = nil, msg
		return nil
	})
}

// Complete moves a record that already carries a view or error to
// Completed.
func (m *Machine) Complete(requestID string) (*types.RequestState, error) {
	return m.update(requestID, func(rec *types.RequestState) error {
		if !rec.HasState() {
			return types.ProtocolErrorf("request %s: cannot complete without state", requestID)
		}
		return advance(rec, types.StatusCompleted)
	})
}

// Fetch returns the record for the local client. A Completed or Error
// record is handed out once: it is then kept as Deleted with its state
// cleared.
func (m *Machine) Fetch(requestID string) (*types.RequestState, error) {
	var fetched types.RequestState
	_, err := m.update(requestID, func(rec *types.RequestState) error {
		fetched = *rec
		if rec.Status != types.StatusCompleted && rec.Status != types.StatusError {
			return errUnchanged
		}
		if err := advance(rec, types.StatusDeleted); err != nil {
			return err
		}
		rec.View, rec.Error = nil, ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &fetched, nil
}

// RecordRemote stores the routing record for a query received from
// another relay. A retried query overwrites the earlier record.
func (m *Machine) RecordRemote(query *types.Query) error {
	if err := types.ValidateQuery(query); err != nil {
		return err
	}
	if query.RequestID == "" {
		return types.WrapValidationError(types.ErrEmptyData, "request_id")
	}
	_, err := m.remote.Set(query.RequestID, &RemoteRequest{
		Query:      *query,
		ReceivedAt: time.Now().UTC(),
	})
	return err
}

// Remote returns the routing record for a query received from another
// relay.
func (m *Machine) Remote(requestID string) (*RemoteRequest, error) {
	rec, err := store.Get[RemoteRequest](m.remote, requestID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ProtocolErrorf("no remote request %s", requestID)
	}
	return rec, err
}

// errUnchanged tells update to return the record without writing it.
var errUnchanged = errors.New("unchanged")

func (m *Machine) update(requestID string, fn func(*types.RequestState) error) (*types.RequestState, error) {
	unlock := m.locks.Lock(requestID)
	defer unlock()

	rec, err := m.Get(requestID)
	if err != nil {
		return nil, err
	}

	prev := rec.Status
	switch err := fn(rec); {
	case errors.Is(err, errUnchanged):
		return rec, nil
	case err != nil:
		return nil, err
	}

	if _, err := m.records.Set(requestID, rec); err != nil {
		return nil, err
	}
	m.observe(rec)
	m.logger.Debug("request transition",
		logging.RequestID(requestID),
		"from", prev.String(),
		logging.Status(rec.Status),
	)
	return rec, nil
}

func (m *Machine) observe(rec *types.RequestState) {
	m.metrics.IncTransitions(machineName, rec.Status.String())
}

func advance(rec *types.RequestState, to types.RequestStatus) error {
	if !types.CanTransition(rec.Status, to) {
		return fmt.Errorf("%w: request %s: cannot move from %s to %s",
			types.ErrProtocol, rec.RequestID, rec.Status, to)
	}
	rec.Status = to
	return nil
}

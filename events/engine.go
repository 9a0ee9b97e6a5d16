// Package events tracks event subscriptions and the events delivered for
// them.
//
// A subscription owns two records under the same request id: its
// EventSubscriptionState in the events table and a RequestState in the
// requests table that carries the latest delivered event.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/requests"
	"github.com/blockberries/relayberry/store"
	"github.com/blockberries/relayberry/types"
)

const machineName = "events"

// RemoteSubscription is the routing record a serving relay keeps for a
// subscription it received from another relay.
type RemoteSubscription struct {
	Subscription types.EventSubscription `cbor:"subscription"`
	ReceivedAt   time.Time               `cbor:"received_at"`
}

// Engine is the event subscription state machine.
type Engine struct {
	records  *store.Store
	index    *store.Store
	remote   *store.Store
	requests *requests.Machine
	locks    *store.KeyLock
	logger   *logging.Logger
	metrics  metrics.Metrics
}

// New returns an Engine over the events and remote-events tables. The
// dedup index shares the events table under its own namespace.
func New(records, remote *store.Store, reqs *requests.Machine, logger *logging.Logger, m metrics.Metrics) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	return &Engine{
		records:  records,
		index:    records.In(store.NamespaceIndex),
		remote:   remote,
		requests: reqs,
		locks:    store.NewKeyLock(),
		logger:   logger.WithComponent(machineName),
		metrics:  m,
	}
}

// Subscribe records a new subscription at SubscribePendingAck. If an
// identical subscription is still active no record is written; the
// returned state has status DuplicateQuerySubscribed and the error wraps
// types.ErrDuplicateSubscription.
func (e *Engine) Subscribe(requestID string, sub *types.EventSubscription, pubs []types.EventPublication) (*types.EventSubscriptionState, error) {
	if sub == nil {
		return nil, types.WrapValidationError(types.ErrNilPointer, "event subscription")
	}
	if requestID == "" {
		return nil, types.WrapValidationError(types.ErrEmptyData, "request_id")
	}
	if err := types.ValidateQuery(&sub.Query); err != nil {
		return nil, err
	}
	if err := validatePublications(pubs); err != nil {
		return nil, err
	}

	key := types.SubscriptionKey(sub.EventMatcher, sub.Query)
	unlock := e.locks.Lock(key)
	defer unlock()

	existing, err := e.active(key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.metrics.IncTransitions(machineName, types.DuplicateQuerySubscribed.String())
		e.logger.Info("duplicate subscription rejected",
			logging.RequestID(requestID),
			"existing_request_id", existing.RequestID,
		)
		return &types.EventSubscriptionState{
				RequestID:           requestID,
				PublishingRequestID: existing.RequestID,
				Status:              types.DuplicateQuerySubscribed,
				Message:             "identical subscription active under request " + existing.RequestID,
				EventMatcher:        sub.EventMatcher,
				Query:               sub.Query,
			}, fmt.Errorf("%w: active under request %s",
				types.ErrDuplicateSubscription, existing.RequestID)
	}

	taken, err := e.records.HasKey(requestID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, types.ProtocolErrorf("subscription %s already exists", requestID)
	}

	rec := &types.EventSubscriptionState{
		RequestID:             requestID,
		Status:                types.SubscribePendingAck,
		EventMatcher:          sub.EventMatcher,
		Query:                 sub.Query,
		EventPublicationSpecs: pubs,
	}
	if _, err := e.records.Set(requestID, rec); err != nil {
		return nil, err
	}
	if _, err := e.index.Set(key, requestID); err != nil {
		return nil, e.discard(requestID, "", err)
	}
	// The backing request is written last so a failed subscribe leaves no
	// pending request behind.
	if _, err := e.requests.Create(requestID); err != nil {
		return nil, e.discard(requestID, key, err)
	}
	e.observe(rec)
	return rec, nil
}

// discard removes a partially written subscription and its index entry.
func (e *Engine) discard(requestID, key string, cause error) error {
	errs := []error{cause}
	if key != "" {
		if _, err := e.index.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := e.records.Delete(requestID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// active returns the active record indexed under key, or nil.
func (e *Engine) active(key string) (*types.EventSubscriptionState, error) {
	id, err := store.Get[string](e.index, key)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := store.Get[types.EventSubscriptionState](e.records, *id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsActive() {
		return nil, nil
	}
	return rec, nil
}

// Get returns the subscription record.
func (e *Engine) Get(requestID string) (*types.EventSubscriptionState, error) {
	rec, err := store.Get[types.EventSubscriptionState](e.records, requestID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ProtocolErrorf("unknown subscription %s", requestID)
	}
	return rec, err
}

// List returns every subscription record.
func (e *Engine) List() ([]*types.EventSubscriptionState, error) {
	var out []*types.EventSubscriptionState
	err := e.records.Scan(func(key string, raw []byte) error {
		rec, err := store.Decode[types.EventSubscriptionState](e.records, key, raw)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Publications returns the targets to invoke for each event.
func (e *Engine) Publications(requestID string) ([]types.EventPublication, error) {
	rec, err := e.Get(requestID)
	if err != nil {
		return nil, err
	}
	return rec.EventPublicationSpecs, nil
}

// MarkAcked records the counterpart relay's acknowledgement of a subscribe
// or unsubscribe forward.
func (e *Engine) MarkAcked(requestID, publishingRequestID string) (*types.EventSubscriptionState, error) {
	rec, err := e.update(requestID, func(rec *types.EventSubscriptionState) error {
		switch rec.Status {
		case types.SubscribePendingAck:
			rec.PublishingRequestID = publishingRequestID
			return advance(rec, types.SubscribePending)
		case types.UnsubscribePendingAck:
			return advance(rec, types.UnsubscribePending)
		default:
			return errUnchanged
		}
	})
	if err != nil {
		return nil, err
	}
	if rec.Status == types.SubscribePending {
		if _, err := e.requests.MarkPending(requestID); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Confirm applies the final status the publishing side reports for a
// subscribe or unsubscribe.
func (e *Engine) Confirm(ack *types.Ack) (*types.EventSubscriptionState, error) {
	if ack == nil {
		return nil, types.WrapValidationError(types.ErrNilPointer, "ack")
	}
	if !ack.IsOK() {
		return e.Fail(ack.RequestID, ack.Message)
	}

	rec, err := e.update(ack.RequestID, func(rec *types.EventSubscriptionState) error {
		rec.Message = ack.Message
		switch rec.Status {
		case types.SubscribePendingAck, types.SubscribePending:
			return advance(rec, types.Subscribed)
		case types.UnsubscribePendingAck, types.UnsubscribePending:
			return advance(rec, types.Unsubscribed)
		default:
			return fmt.Errorf("%w: subscription %s: unexpected confirmation in %s",
				types.ErrProtocol, rec.RequestID, rec.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case types.Subscribed:
		if _, err := e.requests.MarkPending(rec.RequestID); err != nil {
			return nil, err
		}
	case types.Unsubscribed:
		e.dropIndex(rec)
		if err := e.closeRequest(rec.RequestID, "unsubscribed"); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Unsubscribe moves a Subscribed record to UnsubscribePendingAck. The
// returned record carries the matcher and query to forward.
func (e *Engine) Unsubscribe(requestID string) (*types.EventSubscriptionState, error) {
	return e.update(requestID, func(rec *types.EventSubscriptionState) error {
		return advance(rec, types.UnsubscribePendingAck)
	})
}

// Update replaces the publication targets of an active subscription.
func (e *Engine) Update(requestID string, pubs []types.EventPublication) (*types.EventSubscriptionState, error) {
	if err := validatePublications(pubs); err != nil {
		return nil, err
	}
	return e.update(requestID, func(rec *types.EventSubscriptionState) error {
		if !rec.Status.IsActive() {
			return fmt.Errorf("%w: subscription %s is %s",
				types.ErrProtocol, rec.RequestID, rec.Status)
		}
		rec.EventPublicationSpecs = pubs
		return nil
	})
}

// Fail moves the subscription and its request record to Error.
func (e *Engine) Fail(requestID, msg string) (*types.EventSubscriptionState, error) {
	rec, err := e.update(requestID, func(rec *types.EventSubscriptionState) error {
		if err := advance(rec, types.SubscriptionError); err != nil {
			return err
		}
		rec.Message = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.dropIndex(rec)

	req, err := e.requests.Get(requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsTerminal() {
		if _, err := e.requests.Fail(requestID, msg); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Deliver records an event published for a subscription.
func (e *Engine) Deliver(payload *types.ViewPayload) (*types.EventSubscriptionState, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	rec, err := e.Get(payload.RequestID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case types.Subscribed, types.UnsubscribePendingAck, types.UnsubscribePending:
	default:
		return nil, fmt.Errorf("%w: subscription %s is %s, not accepting events",
			types.ErrProtocol, rec.RequestID, rec.Status)
	}
	if _, err := e.requests.RecordEvent(payload); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordRemote stores the routing record for a subscription received from
// another relay.
func (e *Engine) RecordRemote(sub *types.EventSubscription) error {
	if sub == nil {
		return types.WrapValidationError(types.ErrNilPointer, "event subscription")
	}
	if err := types.ValidateQuery(&sub.Query); err != nil {
		return err
	}
	if sub.Query.RequestID == "" {
		return types.WrapValidationError(types.ErrEmptyData, "request_id")
	}
	_, err := e.remote.Set(sub.Query.RequestID, &RemoteSubscription{
		Subscription: *sub,
		ReceivedAt:   time.Now().UTC(),
	})
	return err
}

// Remote returns the routing record for a subscription received from
// another relay.
func (e *Engine) Remote(requestID string) (*RemoteSubscription, error) {
	rec, err := store.Get[RemoteSubscription](e.remote, requestID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ProtocolErrorf("no remote subscription %s", requestID)
	}
	return rec, err
}

// closeRequest finishes the request record of an ended subscription.
func (e *Engine) closeRequest(requestID, reason string) error {
	req, err := e.requests.Get(requestID)
	if err != nil {
		return err
	}
	switch {
	case req.Status.IsTerminal():
		return nil
	case req.HasState():
		_, err = e.requests.Complete(requestID)
	default:
		_, err = e.requests.Fail(requestID, reason)
	}
	return err
}

// dropIndex removes the dedup entry if it still points at rec.
func (e *Engine) dropIndex(rec *types.EventSubscriptionState) {
	key := types.SubscriptionKey(rec.EventMatcher, rec.Query)
	unlock := e.locks.Lock(key)
	defer unlock()

	id, err := store.Get[string](e.index, key)
	if err != nil || *id != rec.RequestID {
		return
	}
	if _, err := e.index.Delete(key); err != nil {
		e.logger.Warn("failed to drop subscription index",
			logging.RequestID(rec.RequestID),
			logging.Error(err),
		)
	}
}

var errUnchanged = errors.New("unchanged")

func (e *Engine) update(requestID string, fn func(*types.EventSubscriptionState) error) (*types.EventSubscriptionState, error) {
	unlock := e.locks.Lock(requestID)
	defer unlock()

	rec, err := e.Get(requestID)
	if err != nil {
		return nil, err
	}
	switch err := fn(rec); {
	case errors.Is(err, errUnchanged):
		return rec, nil
	case err != nil:
		return nil, err
	}

	if _, err := e.records.Set(requestID, rec); err != nil {
		return nil, err
	}
	e.observe(rec)
	return rec, nil
}

func (e *Engine) observe(rec *types.EventSubscriptionState) {
	e.metrics.IncTransitions(machineName, rec.Status.String())
	e.logger.Debug("subscription transition",
		logging.RequestID(rec.RequestID),
		logging.Status(rec.Status),
	)
}

func advance(rec *types.EventSubscriptionState, to types.EventSubscriptionStatus) error {
	if !types.CanSubscriptionTransition(rec.Status, to) {
		return fmt.Errorf("%w: subscription %s: cannot move from %s to %s",
			types.ErrProtocol, rec.RequestID, rec.Status, to)
	}
	rec.Status = to
	return nil
}

func validatePublications(pubs []types.EventPublication) error {
	for i, p := range pubs {
		field := fmt.Sprintf("event_publication_spec[%d]", i)
		switch {
		case p.ContractTransaction == nil && p.AppURL == nil:
			return types.WrapValidationError(types.ErrEmptyData, field)
		case p.ContractTransaction != nil && p.AppURL != nil:
			return types.WrapValidationError(types.ErrAmbiguousState, field)
		}
	}
	return nil
}

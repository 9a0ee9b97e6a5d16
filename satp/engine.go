// Package satp runs the gateway-to-gateway asset transfer handshake.
//
// One engine serves both roles. As initiator it records outbound messages
// in the remote-requests table and its own progress in remote-states; as
// receiver it records inbound messages in local-requests and its progress
// in local-states. Inside each requests table a one-byte namespace selects
// the message type.
package satp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/blockberries/relayberry/codec"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/outbox"
	rpcgrpc "github.com/blockberries/relayberry/rpc/grpc"
	"github.com/blockberries/relayberry/store"
	"github.com/blockberries/relayberry/types"
)

// Message-type namespaces inside the requests tables. Messages this
// gateway receives go to the local requests table and messages it sends go
// to the remote requests table.
const (
	NamespaceTransferCommence     store.Namespace = 't'
	NamespaceCommenceResponse     store.Namespace = 'c'
	NamespaceLockAssertion        store.Namespace = 'l'
	NamespaceLockAssertionReceipt store.Namespace = 'r'
)

// Outbox task kinds.
const (
	KindTransferCommence = "transfer_commence"
	KindCommenceResponse = "commence_response"
)

// Messages returned in error acks.
const (
	MsgInvalidTransferCommence = "Invalid transfer commence request"
	MsgNotImplemented          = "not implemented"
)

// Sender delivers handshake messages to a counterpart gateway.
type Sender interface {
	TransferCommence(ctx context.Context, loc types.LocationSegment, req *types.TransferCommenceRequest) (*types.Ack, error)
	CommenceResponse(ctx context.Context, loc types.LocationSegment, req *types.CommenceResponseRequest) (*types.Ack, error)
}

// Directory resolves a relay name to its location.
type Directory interface {
	Relay(name string) (types.LocationSegment, error)
}

// Validator decides whether an inbound transfer commence request may
// proceed, typically by checking the asset exists and belongs to the
// sender.
type Validator func(ctx context.Context, req *types.TransferCommenceRequest) bool

// AlwaysValid accepts every request.
func AlwaysValid(context.Context, *types.TransferCommenceRequest) bool { return true }

// Tables are the four handshake tables.
type Tables struct {
	LocalRequests  *store.Store
	LocalStates    *store.Store
	RemoteRequests *store.Store
	RemoteStates   *store.Store
}

// Engine implements the SATP service and the initiator side of the
// handshake.
type Engine struct {
	tables    Tables
	sender    Sender
	directory Directory
	outbox    *outbox.Dispatcher
	validator Validator
	locks     *store.KeyLock
	logger    *logging.Logger
	metrics   metrics.Metrics
}

// New returns an Engine that accepts every transfer commence request
// until SetValidator installs a real check.
func New(tables Tables, sender Sender, dir Directory, d *outbox.Dispatcher, logger *logging.Logger, m metrics.Metrics) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	return &Engine{
		tables:    tables,
		sender:    sender,
		directory: dir,
		outbox:    d,
		validator: AlwaysValid,
		locks:     store.NewKeyLock(),
		logger:    logger.WithComponent("satp"),
		metrics:   m,
	}
}

// SetValidator replaces the transfer commence validity check.
func (e *Engine) SetValidator(v Validator) {
	if v == nil {
		v = AlwaysValid
	}
	e.validator = v
}

// HashCommenceRequest returns the hex SHA-256 of the request's canonical
// encoding. A CommenceResponse must echo it.
func HashCommenceRequest(req *types.TransferCommenceRequest) (string, error) {
	data, err := codec.Marshal(req)
	if err != nil {
		return "", err
	}
	return types.HashBytes(data).String(), nil
}

// Initiate records an outbound transfer commence request and sends it to
// the gateway at loc in the background. A session id is assigned when the
// request has none.
func (e *Engine) Initiate(loc types.LocationSegment, req *types.TransferCommenceRequest) (*outbox.Task, error) {
	if req == nil {
		return nil, types.WrapValidationError(types.ErrNilPointer, "transfer commence request")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.MessageType == "" {
		req.MessageType = types.MessageTypeTransferCommence
	}
	session := req.SessionID

	if _, err := e.tables.RemoteRequests.In(NamespaceTransferCommence).Set(session, req); err != nil {
		return nil, err
	}
	if err := e.record(e.tables.RemoteStates, session, types.SATPTransferCommenceSent, ""); err != nil {
		return nil, err
	}

	task := e.outbox.Go(session, KindTransferCommence, func(ctx context.Context) error {
		ack, err := e.sender.TransferCommence(ctx, loc, req)
		if err != nil {
			if rerr := e.record(e.tables.RemoteStates, session, types.SATPTransferCommenceFailed, err.Error(), types.SATPTransferCommenceSent); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		if !ack.IsOK() {
			return e.record(e.tables.RemoteStates, session, types.SATPTransferCommenceRejected, ack.Message, types.SATPTransferCommenceSent)
		}
		return e.record(e.tables.RemoteStates, session, types.SATPTransferCommenceAcked, "", types.SATPTransferCommenceSent)
	})

	e.logger.Info("transfer commence initiated", logging.SessionID(session), logging.Target(loc.Target()))
	return task, nil
}

// TransferCommence handles an inbound request. A request the validator
// accepts is acked at once and answered with a CommenceResponse sent in
// the background to the calling relay. A failure to deliver that response
// is logged and recorded in local-states only.
func (e *Engine) TransferCommence(ctx context.Context, req *types.TransferCommenceRequest) (*types.Ack, error) {
	if err := validateTransferCommence(req); err != nil {
		return types.ErrorAck(sessionOf(req), err), nil
	}
	session := req.SessionID

	if _, err := e.tables.LocalRequests.In(NamespaceTransferCommence).Set(session, req); err != nil {
		return types.ErrorAck(session, err), nil
	}
	if err := e.record(e.tables.LocalStates, session, types.SATPTransferCommenceReceived, ""); err != nil {
		return types.ErrorAck(session, err), nil
	}

	if !e.validator(ctx, req) {
		if err := e.record(e.tables.LocalStates, session, types.SATPTransferCommenceInvalid, MsgInvalidTransferCommence); err != nil {
			return types.ErrorAck(session, err), nil
		}
		return types.ErrorAckMessage(session, MsgInvalidTransferCommence), nil
	}

	resp, err := commenceResponse(req)
	if err != nil {
		return types.ErrorAck(session, err), nil
	}
	if _, err := e.tables.RemoteRequests.In(NamespaceCommenceResponse).Set(session, resp); err != nil {
		return types.ErrorAck(session, err), nil
	}
	if err := e.record(e.tables.LocalStates, session, types.SATPTransferCommenceAccepted, ""); err != nil {
		return types.ErrorAck(session, err), nil
	}

	caller := rpcgrpc.CallerRelay(ctx)
	e.outbox.Go(session, KindCommenceResponse, func(ctx context.Context) error {
		err := e.sendCommenceResponse(ctx, caller, resp)
		if err != nil {
			if rerr := e.record(e.tables.LocalStates, session, types.SATPCommenceResponseFailed, err.Error()); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		return e.record(e.tables.LocalStates, session, types.SATPCommenceResponseSent, "")
	})

	return types.OkAck(session, ""), nil
}

func (e *Engine) sendCommenceResponse(ctx context.Context, caller string, resp *types.CommenceResponseRequest) error {
	if caller == "" {
		return types.ProtocolErrorf("session %s: caller did not identify its relay", resp.SessionID)
	}
	loc, err := e.directory.Relay(caller)
	if err != nil {
		return err
	}
	ack, err := e.sender.CommenceResponse(ctx, loc, resp)
	if err != nil {
		return err
	}
	if !ack.IsOK() {
		return types.ProtocolErrorf("session %s: commence response rejected: %s", resp.SessionID, ack.Message)
	}
	return nil
}

// CommenceResponse handles the answer to a transfer commence request this
// gateway sent.
func (e *Engine) CommenceResponse(_ context.Context, resp *types.CommenceResponseRequest) (*types.Ack, error) {
	if resp == nil {
		return types.ErrorAck("", types.WrapValidationError(types.ErrNilPointer, "commence response")), nil
	}
	session := resp.SessionID
	if session == "" {
		return types.ErrorAck("", types.WrapValidationError(types.ErrEmptyData, "session_id")), nil
	}

	sent, err := store.Get[types.TransferCommenceRequest](e.tables.RemoteRequests.In(NamespaceTransferCommence), session)
	if errors.Is(err, types.ErrNotFound) {
		return types.ErrorAck(session, types.ProtocolErrorf("no transfer commence sent for session %s", session)), nil
	}
	if err != nil {
		return types.ErrorAck(session, err), nil
	}

	hash, err := HashCommenceRequest(sent)
	if err != nil {
		return types.ErrorAck(session, err), nil
	}
	if resp.HashCommenceRequest != hash {
		return types.ErrorAck(session, types.ProtocolErrorf("session %s: commence request hash mismatch", session)), nil
	}

	if _, err := e.tables.LocalRequests.In(NamespaceCommenceResponse).Set(session, resp); err != nil {
		return types.ErrorAck(session, err), nil
	}
	if err := e.record(e.tables.RemoteStates, session, types.SATPCommenceResponseReceived, ""); err != nil {
		return types.ErrorAck(session, err), nil
	}
	return types.OkAck(session, ""), nil
}

// LockAssertion is not implemented.
func (e *Engine) LockAssertion(_ context.Context, req *types.LockAssertionRequest) (*types.Ack, error) {
	var session string
	if req != nil {
		session = req.SessionID
	}
	e.logger.Warn("lock assertion received", logging.SessionID(session))
	return types.ErrorAckMessage(session, MsgNotImplemented), nil
}

// LockAssertionReceipt is not implemented.
func (e *Engine) LockAssertionReceipt(_ context.Context, req *types.LockAssertionReceiptRequest) (*types.Ack, error) {
	var session string
	if req != nil {
		session = req.SessionID
	}
	e.logger.Warn("lock assertion receipt received", logging.SessionID(session))
	return types.ErrorAckMessage(session, MsgNotImplemented), nil
}

// LocalState returns the receiver-side state of a session.
func (e *Engine) LocalState(session string) (*types.SATPState, error) {
	return state(e.tables.LocalStates, session)
}

// RemoteState returns the initiator-side state of a session.
func (e *Engine) RemoteState(session string) (*types.SATPState, error) {
	return state(e.tables.RemoteStates, session)
}

// LocalStates lists every receiver-side session.
func (e *Engine) LocalStates() ([]*types.SATPState, error) {
	return states(e.tables.LocalStates)
}

// RemoteStates lists every initiator-side session.
func (e *Engine) RemoteStates() ([]*types.SATPState, error) {
	return states(e.tables.RemoteStates)
}

func state(s *store.Store, session string) (*types.SATPState, error) {
	st, err := store.Get[types.SATPState](s, session)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ProtocolErrorf("unknown session %s", session)
	}
	return st, err
}

func states(s *store.Store) ([]*types.SATPState, error) {
	var out []*types.SATPState
	err := s.Scan(func(key string, raw []byte) error {
		st, err := store.Decode[types.SATPState](s, key, raw)
		if err != nil {
			return err
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

// record writes the session state. With from given, the write only
// happens while the current status is one of from, so a late outcome
// cannot overwrite a later phase.
func (e *Engine) record(s *store.Store, session string, to types.SATPStatus, msg string, from ...types.SATPStatus) error {
	unlock := e.locks.Lock(s.Table() + "/" + session)
	defer unlock()

	if len(from) > 0 {
		cur, err := store.Get[types.SATPState](s, session)
		if err != nil {
			return err
		}
		if !slices.Contains(from, cur.Status) {
			e.logger.Debug("handshake state kept",
				logging.SessionID(session),
				logging.Status(cur.Status),
				"skipped", to.String(),
			)
			return nil
		}
	}

	st := &types.SATPState{SessionID: session, Status: to, Message: msg, UpdatedAt: time.Now().UTC()}
	if _, err := s.Set(session, st); err != nil {
		return err
	}
	e.metrics.IncTransitions(s.Table(), to.String())
	e.logger.Debug("handshake transition", logging.SessionID(session), logging.Table(s.Table()), logging.Status(to))
	return nil
}

func commenceResponse(req *types.TransferCommenceRequest) (*types.CommenceResponseRequest, error) {
	hash, err := HashCommenceRequest(req)
	if err != nil {
		return nil, fmt.Errorf("hashing commence request: %w", err)
	}
	return &types.CommenceResponseRequest{
		MessageType:          types.MessageTypeCommenceResponse,
		SessionID:            req.SessionID,
		TransferContextID:    req.TransferContextID,
		ClientIdentityPubkey: req.ClientIdentityPubkey,
		ServerIdentityPubkey: req.ServerIdentityPubkey,
		HashCommenceRequest:  hash,
		ServerTransferNumber: req.ClientTransferNumber,
	}, nil
}

func validateTransferCommence(req *types.TransferCommenceRequest) error {
	if req == nil {
		return types.WrapValidationError(types.ErrNilPointer, "transfer commence request")
	}
	if req.SessionID == "" {
		return types.WrapValidationError(types.ErrEmptyData, "session_id")
	}
	if req.MessageType != "" && req.MessageType != types.MessageTypeTransferCommence {
		return types.WrapValidationError(fmt.Errorf("unexpected message type %q", req.MessageType), "message_type")
	}
	return nil
}

func sessionOf(req *types.TransferCommenceRequest) string {
	if req == nil {
		return ""
	}
	return req.SessionID
}

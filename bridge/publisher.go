package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/blockberries/relayberry/codec"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/outbox"
	"github.com/blockberries/relayberry/requests"
	"github.com/blockberries/relayberry/types"
)

// ContentTypeCBOR is the content type of event payloads posted to
// application callbacks.
const ContentTypeCBOR = "application/cbor"

// Publisher invokes the publication targets of a subscription for each
// delivered event and records the outcome on the subscription's request.
type Publisher struct {
	requests   *requests.Machine
	client     DriverClient
	directory  Directory
	outbox     *outbox.Dispatcher
	httpClient *http.Client
	logger     *logging.Logger
}

// NewPublisher returns a Publisher. A nil httpClient uses
// http.DefaultClient; the outbox timeout still bounds every post.
func NewPublisher(reqs *requests.Machine, client DriverClient, dir Directory, d *outbox.Dispatcher, httpClient *http.Client, logger *logging.Logger) *Publisher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		requests:   reqs,
		client:     client,
		directory:  dir,
		outbox:     d,
		httpClient: httpClient,
		logger:     logger.WithComponent("publisher"),
	}
}

// Publish invokes every target in the background. The request moves to
// EventWritten when all targets accept the event, EventWriteError
// otherwise.
func (p *Publisher) Publish(payload *types.ViewPayload, pubs []types.EventPublication) *outbox.Task {
	event := *payload
	targets := append([]types.EventPublication(nil), pubs...)

	return p.outbox.Go(event.RequestID, KindPublishEvent, func(ctx context.Context) error {
		var errs []error
		for i, pub := range targets {
			if err := p.publish(ctx, &event, pub); err != nil {
				errs = append(errs, fmt.Errorf("publication %d: %w", i, err))
			}
		}

		if err := errors.Join(errs...); err != nil {
			if _, rerr := p.requests.MarkEventWriteError(event.RequestID, err.Error()); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
		_, err := p.requests.MarkEventWritten(event.RequestID)
		return err
	})
}

func (p *Publisher) publish(ctx context.Context, event *types.ViewPayload, pub types.EventPublication) error {
	switch {
	case pub.ContractTransaction != nil:
		return p.writeLedger(ctx, event, pub.ContractTransaction)
	case pub.AppURL != nil:
		return p.post(ctx, event, pub.AppURL.URL)
	default:
		return types.WrapValidationError(types.ErrEmptyData, "event publication")
	}
}

// writeLedger asks the named local driver to write the event through a
// contract call.
func (p *Publisher) writeLedger(ctx context.Context, event *types.ViewPayload, tx *types.ContractTransaction) error {
	loc, err := p.directory.Driver(tx.DriverID)
	if err != nil {
		return err
	}
	ack, err := p.client.WriteExternalState(ctx, loc, &types.WriteExternalStateMessage{
		ViewPayload: event,
		Ctx:         tx,
	})
	return checkAck(ack, err, "driver "+tx.DriverID+" write")
}

// post sends the CBOR-encoded event to an application callback.
func (p *Publisher) post(ctx context.Context, event *types.ViewPayload, url string) error {
	body, err := codec.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.WrapValidationError(err, "app_url")
	}
	req.Header.Set("Content-Type", ContentTypeCBOR)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.WrapTransportError(err, url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.WrapTransportError(fmt.Errorf("unexpected status %s", resp.Status), url)
	}
	p.logger.Debug("event posted", logging.RequestID(event.RequestID), logging.Target(url))
	return nil
}

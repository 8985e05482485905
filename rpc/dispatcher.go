package rpc

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// RequestConfig holds the per-call settings a RequestOption can override.
type RequestConfig struct {
	RoutingKey        string
	Expiration        time.Duration
	NoExpiration      bool
	Priority          uint8
	Headers           Headers
	Mandatory         bool
	PublisherConfirms bool
}

// RequestOption customizes a single Request call.
type RequestOption func(*RequestConfig)

// WithRoutingKey overrides the routing key used to publish the request and
// match it to a responder's binding. Defaults to the convention's
// RPCRoutingKey for TRequest.
func WithRoutingKey(key string) RequestOption {
	return func(c *RequestConfig) { c.RoutingKey = key }
}

// WithExpiration overrides the request's time-to-live, after which a
// responder that has not yet processed it will never see it. Defaults to
// the Bus's configured timeout.
func WithExpiration(d time.Duration) RequestOption {
	return func(c *RequestConfig) { c.Expiration = d; c.NoExpiration = false }
}

// WithNoExpiration disables message expiration; the request waits on the
// caller's context alone.
func WithNoExpiration() RequestOption {
	return func(c *RequestConfig) { c.NoExpiration = true }
}

// WithPriority sets the message priority (0-9); only meaningful if the
// request queue was declared with x-max-priority.
func WithPriority(p uint8) RequestOption {
	return func(c *RequestConfig) { c.Priority = p }
}

// WithHeaders merges additional headers into the outgoing request message.
func WithHeaders(h Headers) RequestOption {
	return func(c *RequestConfig) {
		if c.Headers == nil {
			c.Headers = Headers{}
		}
		for k, v := range h {
			c.Headers[k] = v
		}
	}
}

// WithMandatory requests that the broker return the message if it cannot be
// routed to any queue, instead of silently dropping it.
func WithMandatory() RequestOption {
	return func(c *RequestConfig) { c.Mandatory = true }
}

// WithPublisherConfirms makes Request wait for the broker's publish
// acknowledgement before waiting for a reply.
func WithPublisherConfirms() RequestOption {
	return func(c *RequestConfig) { c.PublisherConfirms = true }
}

// Request dispatches req and blocks until a matching reply arrives, the
// responder reports a fault, the connection is lost, or ctx (composed with
// the request's expiration) is done — the Request Dispatcher, §4.1.
//
// The (TRequest, TResponse) pair identifies the reply subscription a
// requester is routed through (§3's "RPC Key"): two request types sharing a
// response type are never merged onto the same reply queue.
func Request[TReq, TResp any](ctx context.Context, bus *Bus, req TReq, opts ...RequestOption) (TResp, error) {
	var zero TResp
	if bus.isClosed() {
		return zero, ErrClosed
	}

	reqType := reflect.TypeOf(req)
	respType := reflect.TypeOf(zero)

	cfg := RequestConfig{
		RoutingKey: bus.conv.RPCRoutingKey(reqType),
		Expiration: bus.defaultTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}

	cctx := ctx
	var cancel context.CancelFunc
	if cfg.NoExpiration {
		cctx, cancel = context.WithCancel(ctx)
	} else {
		cctx, cancel = context.WithTimeout(ctx, cfg.Expiration)
	}
	defer cancel()

	key := keyFor(reqType, respType)
	replyQueue, err := bus.registry.ensure(key, respType)
	if err != nil {
		return zero, err
	}

	correlationID := bus.correlationIDs()
	pending := newPendingRequest()
	bus.pending.store(correlationID, pending)
	defer bus.pending.tryRemove(correlationID)

	if bus.metrics != nil {
		bus.metrics.PendingRequests.Inc()
		defer bus.metrics.PendingRequests.Dec()
		start := time.Now()
		defer func() { bus.metrics.RequestDuration.Observe(time.Since(start).Seconds()) }()
	}

	body, err := bus.codec.Marshal(req)
	if err != nil {
		return zero, err
	}

	headers := Headers{}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	msg := Message{
		Headers:       headers,
		CorrelationId: correlationID,
		ReplyTo:       replyQueue,
		Priority:      cfg.Priority,
		Body:          body,
	}
	if bus.deliveryMode(reqType) == Persistent {
		msg.DeliveryMode = 2
	}
	if !cfg.NoExpiration {
		msg.Expiration = strconv.FormatInt(cfg.Expiration.Milliseconds(), 10)
	}

	exchange := bus.conv.RPCRequestExchange(reqType)
	if err := bus.broker.DeclareExchange(exchange, false); err != nil {
		return zero, err
	}
	if err := bus.broker.Publish(cctx, PublishSpec{
		Exchange:   exchange,
		RoutingKey: cfg.RoutingKey,
		Mandatory:  cfg.Mandatory,
		Confirm:    cfg.PublisherConfirms,
	}, msg); err != nil {
		return zero, err
	}

	select {
	case res := <-pending.done:
		if res.err != nil {
			return zero, res.err
		}
		if res.faulted {
			if bus.metrics != nil {
				bus.metrics.ResponderFaults.Inc()
			}
			faultMsg := res.fault
			if faultMsg == "" {
				faultMsg = defaultFaultMessage
			}
			return zero, &ResponderFault{Message: faultMsg}
		}
		var out TResp
		if err := bus.codec.Unmarshal(res.body, &out); err != nil {
			return zero, fmt.Errorf("rpc: decoding response: %w", err)
		}
		return out, nil
	case <-cctx.Done():
		return zero, ErrCancelled
	}
}

package rpc

import (
	"context"
	"errors"
	"reflect"

	"github.com/c0c0bird/easynetq-go/convention"
	"golang.org/x/sync/errgroup"
	xlog "go.bryk.io/pkg/log"
)

// maxResponseTypeNameLength is the largest value a short-string AMQP header
// field may carry (§4.4's 255-byte cap on the serialized response type
// name).
const maxResponseTypeNameLength = 255

// Responder processes one decoded request and returns the value to reply
// with, or an error to report back to the requester as a fault (§4.4).
type Responder[TReq, TResp any] func(ctx context.Context, req TReq, headers Headers) (TResp, error)

// ResponderConfig holds the per-subscription settings a ResponderOption can
// override.
type ResponderConfig struct {
	QueueName string
	Durable   bool
	Arguments map[string]interface{}
}

// ResponderOption customizes a single Respond call.
type ResponderOption func(*ResponderConfig)

// WithQueueName overrides the request queue name. Defaults to the
// convention's RPCRoutingKey for TRequest.
func WithQueueName(name string) ResponderOption {
	return func(c *ResponderConfig) { c.QueueName = name }
}

// WithDurableQueue marks the request queue as surviving a broker restart.
func WithDurableQueue() ResponderOption {
	return func(c *ResponderConfig) { c.Durable = true }
}

// WithQueueArguments sets additional queue declaration arguments (e.g.
// x-max-priority, x-message-ttl).
func WithQueueArguments(args map[string]interface{}) ResponderOption {
	return func(c *ResponderConfig) { c.Arguments = args }
}

// Respond registers fn as the handler for every request of type TReq that
// expects a TResp reply — the Responder Host, §4.4. It declares the request
// exchange/queue/binding, opens a subscription bounded to at most
// WithResponderConcurrency(n) concurrent deliveries, and returns a Closer
// that stops the subscription and waits for in-flight handlers to drain.
func Respond[TReq, TResp any](bus *Bus, fn Responder[TReq, TResp], opts ...ResponderOption) (Closer, error) {
	if bus.isClosed() {
		return nil, ErrClosed
	}

	var zeroReq TReq
	var zeroResp TResp
	reqType := reflect.TypeOf(zeroReq)
	respType := reflect.TypeOf(zeroResp)

	if len(bus.typeSerializer(respType)) > maxResponseTypeNameLength {
		return nil, ErrResponseTypeTooLong
	}

	cfg := ResponderConfig{
		QueueName: bus.conv.RPCRoutingKey(reqType),
		Durable:   bus.conv.QueueType(reqType) == convention.Durable,
	}
	for _, o := range opts {
		o(&cfg)
	}

	exchange := bus.conv.RPCRequestExchange(reqType)
	routingKey := bus.conv.RPCRoutingKey(reqType)

	if err := bus.broker.DeclareExchange(exchange, false); err != nil {
		return nil, err
	}
	queueName, err := bus.broker.DeclareQueue(QueueSpec{
		Name:      cfg.QueueName,
		Durable:   cfg.Durable,
		Arguments: cfg.Arguments,
	})
	if err != nil {
		return nil, err
	}
	if err := bus.broker.Bind(exchange, queueName, routingKey); err != nil {
		return nil, err
	}

	deliveries, cancel, err := bus.broker.Consume(SubscribeSpec{Queue: queueName})
	if err != nil {
		return nil, err
	}

	ctx, stop := context.WithCancel(context.Background())
	h := &responderHost[TReq, TResp]{
		bus:    bus,
		fn:     fn,
		cancel: cancel,
		stop:   stop,
		ctx:    ctx,
		done:   make(chan struct{}),
	}
	go h.run(deliveries)
	bus.trackCloser(h)
	return h, nil
}

// Closer stops a Respond subscription and waits for in-flight handlers to
// finish processing.
type Closer interface {
	Close() error
}

type responderHost[TReq, TResp any] struct {
	bus    *Bus
	fn     Responder[TReq, TResp]
	cancel func() error
	stop   context.CancelFunc
	ctx    context.Context
	done   chan struct{}
}

func (h *responderHost[TReq, TResp]) run(deliveries <-chan Delivery) {
	defer close(h.done)

	g := new(errgroup.Group)
	g.SetLimit(h.bus.prefetchCount)
	for d := range deliveries {
		d := d
		g.Go(func() error {
			h.handleMessage(d)
			return nil
		})
	}
	_ = g.Wait()
}

// handleMessage is the Responder Host's per-delivery algorithm (§4.4):
// decode, invoke, reply — with a fault reply substituted for the handler's
// return value when it fails, and no reply at all when the handler returns
// a cancellation error because the subscription itself is being closed.
// The request's own expiration is not checked here.
func (h *responderHost[TReq, TResp]) handleMessage(d Delivery) {
	defer func() { _ = d.Ack(false) }()

	var req TReq
	if err := h.bus.codec.Unmarshal(d.Body, &req); err != nil {
		h.reply(d, nil, true, err.Error())
		return
	}

	resp, err := h.fn(h.ctx, req, Headers(d.Headers))
	if err != nil {
		if errors.Is(err, context.Canceled) && h.ctx.Err() != nil {
			// The subscription itself is shutting down, not a responder
			// failure: the requester will observe its own cancellation
			// independently, so no fault reply is published (§4.4 step 3).
			return
		}
		h.reply(d, nil, true, err.Error())
		return
	}

	body, err := h.bus.codec.Marshal(resp)
	if err != nil {
		h.reply(d, nil, true, err.Error())
		return
	}
	h.reply(d, body, false, "")
}

func (h *responderHost[TReq, TResp]) reply(d Delivery, body []byte, faulted bool, fault string) {
	if d.ReplyTo == "" {
		return
	}
	var respType TResp
	exchange := h.bus.conv.RPCResponseExchange(reflect.TypeOf(respType))

	// §4.4 handle_message step 1: resolve the reply exchange and, unless it
	// is the broker's nameless default exchange, declare it — a responder
	// runs in its own process and cannot assume the requester's registry
	// already declared it.
	if exchange != "" {
		if err := h.bus.broker.DeclareExchange(exchange, false); err != nil {
			h.bus.log.WithFields(xlog.Fields{
				"exchange": exchange,
				"error":    err.Error(),
			}).Warning("failed to declare response exchange")
			return
		}
	}

	headers := Headers{}
	if faulted {
		headers[headerFaulted] = true
		headers[headerFaultedReason] = fault
	}

	msg := Message{
		Headers:       headers,
		CorrelationId: d.CorrelationId,
		Body:          body,
	}
	_ = h.bus.broker.Publish(context.Background(), PublishSpec{
		Exchange:   exchange,
		RoutingKey: d.ReplyTo,
	}, msg)
}

func (h *responderHost[TReq, TResp]) Close() error {
	err := h.cancel()
	h.stop()
	<-h.done
	return err
}

package rpc

import (
	"reflect"
	"sync"

	"github.com/c0c0bird/easynetq-go/convention"
	xlog "go.bryk.io/pkg/log"
)

// subscription is one live reply-queue consumer, shared by every in-flight
// request whose (TRequest, TResponse) pair maps to the same Key (§4.2:
// "singleton queue/consumer per key").
type subscription struct {
	key       Key
	queueName string
	cancel    func() error
}

// subscriptionRegistry is the Response Subscription Registry (§4.2): it
// lazily creates, and then reuses, exactly one reply queue and consumer per
// Key, routing every inbound reply to the Pending-Request Table by
// correlation id.
type subscriptionRegistry struct {
	broker  Broker
	conv    convention.Provider
	pending *pendingTable
	log     xlog.Logger
	metrics *Metrics

	mu   sync.Mutex
	subs map[Key]*subscription
}

func newSubscriptionRegistry(broker Broker, conv convention.Provider, pending *pendingTable, log xlog.Logger, metrics *Metrics) *subscriptionRegistry {
	return &subscriptionRegistry{
		broker:  broker,
		conv:    conv,
		pending: pending,
		log:     log,
		metrics: metrics,
		subs:    make(map[Key]*subscription),
	}
}

// Len reports the number of distinct (request, response) pairs currently
// holding a live reply subscription. Exposed for tests and metrics.
func (r *subscriptionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Keys returns the RPC keys currently holding a live reply subscription.
// Exposed for tests and metrics.
func (r *subscriptionRegistry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	return keys
}

// ensure returns the reply queue name for key, declaring the exchange,
// queue, binding and consumer the first time key is seen and reusing them
// on every subsequent call. Declaration happens while holding the registry
// mutex (it never touches the publish path a caller is waiting on, so this
// never blocks an unrelated request's Publish call, per §9), but the actual
// fast path — a key already registered — only takes the mutex long enough
// to read the map.
func (r *subscriptionRegistry) ensure(key Key, respType reflect.Type) (string, error) {
	r.mu.Lock()
	if sub, ok := r.subs[key]; ok {
		r.mu.Unlock()
		return sub.queueName, nil
	}
	defer r.mu.Unlock()
	sub, err := r.declare(key, respType)
	if err != nil {
		return "", err
	}
	r.subs[key] = sub
	r.reportLen()
	return sub.queueName, nil
}

// reportLen updates the ActiveSubscriptions gauge, if one was attached via
// WithMetrics. Must be called while holding r.mu.
func (r *subscriptionRegistry) reportLen() {
	if r.metrics != nil {
		r.metrics.ActiveSubscriptions.Set(float64(len(r.subs)))
	}
}

func (r *subscriptionRegistry) declare(key Key, respType reflect.Type) (*subscription, error) {
	// An empty name is the broker's default exchange: it is neither declared
	// nor bound, since every queue is reachable there under its own name.
	exchange := r.conv.RPCResponseExchange(respType)
	if exchange != "" {
		if err := r.broker.DeclareExchange(exchange, false); err != nil {
			return nil, err
		}
	}

	requested := r.conv.RPCReturnQueue(respType)
	queueName, err := r.broker.DeclareQueue(QueueSpec{
		Name:       requested,
		Exclusive:  true,
		AutoDelete: true,
	})
	if err != nil {
		return nil, err
	}

	if exchange != "" {
		if err := r.broker.Bind(exchange, queueName, queueName); err != nil {
			return nil, err
		}
	}

	deliveries, cancel, err := r.broker.Consume(SubscribeSpec{Queue: queueName, Exclusive: true})
	if err != nil {
		return nil, err
	}

	go r.dispatchReplies(key, deliveries)

	return &subscription{key: key, queueName: queueName, cancel: cancel}, nil
}

// dispatchReplies routes every delivery on the reply queue to the matching
// pending request, by correlation id. A delivery whose correlation id is
// stale (already completed) or entirely unknown (never registered, or
// registered under a different Bus instance) is acknowledged and dropped:
// per §4.3 this is not an error, it is the expected outcome of a timed-out
// or cancelled request's reply arriving late.
func (r *subscriptionRegistry) dispatchReplies(key Key, deliveries <-chan Delivery) {
	for d := range deliveries {
		pr := r.pending.tryRemove(d.CorrelationId)
		if pr == nil {
			_ = d.Ack(false)
			continue
		}

		res := result{body: d.Body, headers: Headers(d.Headers)}
		if faulted, _ := d.Headers[headerFaulted].(bool); faulted {
			res.faulted = true
			if msg, ok := d.Headers[headerFaultedReason].(string); ok {
				res.fault = msg
			}
		}
		pr.complete(res)
		_ = d.Ack(false)
	}
}

// invalidate tears down every live subscription so the next ensure() call
// re-declares its topology and opens a fresh consumer against the recovered
// connection. Used by the Recovery Listener (§4.5) after an unexpected
// disconnect, since the broker discards exclusive queues and consumers on
// connection loss.
func (r *subscriptionRegistry) invalidate() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[Key]*subscription)
	r.reportLen()
	r.mu.Unlock()

	for _, sub := range subs {
		if err := sub.cancel(); err != nil {
			r.log.WithFields(xlog.Fields{
				"key":   sub.key.String(),
				"error": err.Error(),
			}).Warning("failed to cancel reply subscription")
		}
	}
}

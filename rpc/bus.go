package rpc

import (
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/c0c0bird/easynetq-go/convention"
	"github.com/google/uuid"
	xlog "go.bryk.io/pkg/log"
)

// DeliveryMode mirrors the AMQP delivery-mode property for a request
// message: whether the broker should persist it across a restart.
type DeliveryMode int

const (
	// Transient requests are not persisted by the broker. The default.
	Transient DeliveryMode = iota
	// Persistent requests survive a broker restart while queued.
	Persistent
)

// Bus is the process-wide facade wiring the Request Dispatcher, Response
// Subscription Registry, Pending-Request Table, Responder Host and Recovery
// Listener together (§2's components A-E). A single Bus instance is shared
// by every Request/Respond call in a process, exactly as §2 describes.
type Bus struct {
	broker  Broker
	conv    convention.Provider
	codec   Codec
	log     xlog.Logger
	metrics *Metrics

	defaultTimeout time.Duration
	correlationIDs func() string
	deliveryMode   func(reflect.Type) DeliveryMode
	typeSerializer func(reflect.Type) string
	prefetchCount  int

	pending  *pendingTable
	registry *subscriptionRegistry
	recovery *recoveryListener

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
}

// Option configures a Bus at construction time, in the same functional
// style the amqp package uses for sessions.
type Option func(*Bus)

// WithLogger sets the logger used to report internal events. Discarded by
// default.
func WithLogger(log xlog.Logger) Option {
	return func(b *Bus) { b.log = log }
}

// WithTimeout sets the default per-request expiration applied when a call
// to Request does not override it with WithExpiration/WithNoExpiration.
func WithTimeout(d time.Duration) Option {
	return func(b *Bus) { b.defaultTimeout = d }
}

// WithConvention overrides the naming convention used to derive exchange,
// routing key and queue names from request/response types. Defaults to
// convention.DefaultConvention{}.
func WithConvention(c convention.Provider) Option {
	return func(b *Bus) { b.conv = c }
}

// WithCorrelationIDGenerator overrides how correlation ids are minted.
// Defaults to uuid.NewString.
func WithCorrelationIDGenerator(fn func() string) Option {
	return func(b *Bus) { b.correlationIDs = fn }
}

// WithDeliveryModeStrategy overrides the per-request-type delivery mode.
// Defaults to Transient for every type.
func WithDeliveryModeStrategy(fn func(reflect.Type) DeliveryMode) Option {
	return func(b *Bus) { b.deliveryMode = fn }
}

// WithResponseTypeSerializer overrides how a response type is turned into
// the name Respond checks against the 255-byte cap before any broker
// interaction. The name is not sent on the wire. Defaults to
// convention.QualifiedName.
func WithResponseTypeSerializer(fn func(reflect.Type) string) Option {
	return func(b *Bus) { b.typeSerializer = fn }
}

// WithCodec overrides the payload codec. Defaults to JSON.
func WithCodec(c Codec) Option {
	return func(b *Bus) { b.codec = c }
}

// WithMetrics attaches a Metrics instance the Bus updates as requests are
// dispatched and completed. Not registered with any collector automatically
// — call Metrics.Register yourself.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithResponderConcurrency bounds how many deliveries a single Respond
// subscription processes concurrently (§4.4's prefetch-bounded dispatch).
// Defaults to 1 (sequential processing).
func WithResponderConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.prefetchCount = n
		}
	}
}

// New builds a Bus backed by broker. The Recovery Listener (§4.5) starts
// listening for reconnect events immediately.
func New(broker Broker, opts ...Option) *Bus {
	b := &Bus{
		broker:         broker,
		conv:           convention.DefaultConvention{},
		codec:          jsonCodec{},
		log:            xlog.Discard(),
		defaultTimeout: 30 * time.Second,
		correlationIDs: uuid.NewString,
		deliveryMode:   func(reflect.Type) DeliveryMode { return Transient },
		prefetchCount:  1,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.typeSerializer == nil {
		b.typeSerializer = convention.QualifiedName
	}

	b.pending = newPendingTable()
	b.registry = newSubscriptionRegistry(b.broker, b.conv, b.pending, b.log, b.metrics)
	b.recovery = newRecoveryListener(b.broker, b.pending, b.registry, b.log)
	b.recovery.start()
	return b
}

// Close stops the Recovery Listener, every active Respond subscription and
// every cached reply subscription the Response Subscription Registry holds
// (§9's "explicit dispose" for the process-wide engine). It does not close
// the underlying Broker; the caller owns that connection's lifecycle.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	closers := b.closers
	b.mu.Unlock()

	b.recovery.stop()
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	b.registry.invalidate()
	return first
}

func (b *Bus) trackCloser(c io.Closer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, c)
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

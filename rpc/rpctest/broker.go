// Package rpctest provides an in-memory rpc.Broker fake, standing in for a
// live AMQP connection in tests that need deterministic control over
// declarations, deliveries and recovery events — the teacher's own broker
// tests require a running server, which is unsuitable for asserting the
// concurrency and recovery invariants the rpc package makes.
package rpctest

import (
	"context"
	"strconv"
	"sync"

	"github.com/c0c0bird/easynetq-go/rpc"
)

type binding struct {
	exchange, queue, routingKey string
}

// subscriber is one open Consume call against a queue: its own delivery
// channel, closed by cancel the same way the real broker's channel.Cancel
// closes a consumer's delivery channel.
type subscriber struct {
	id string
	ch chan rpc.Delivery
}

type queue struct {
	subs []*subscriber
}

// Broker is a single-process, direct-exchange-only broker fake. It is safe
// for concurrent use.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]bool
	queues    map[string]*queue
	bindings  []binding
	recovered chan rpc.RecoveryEvent

	// Counters, exported for test assertions on §8's "at most one
	// queue/consumer" properties.
	ExchangeDeclares int
	QueueDeclares    int
	ConsumeCalls     int
	Publishes        int
}

// New returns a ready to use Broker.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]bool),
		queues:    make(map[string]*queue),
		recovered: make(chan rpc.RecoveryEvent, 16),
	}
}

// DeclareExchange implements rpc.Broker.
func (b *Broker) DeclareExchange(name string, durable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ExchangeDeclares++
	b.exchanges[name] = true
	return nil
}

// DeclareQueue implements rpc.Broker.
func (b *Broker) DeclareQueue(spec rpc.QueueSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.QueueDeclares++
	name := spec.Name
	if name == "" {
		name = generateName()
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{}
	}
	return name, nil
}

// Bind implements rpc.Broker.
func (b *Broker) Bind(exchange, queue, routingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = append(b.bindings, binding{exchange, queue, routingKey})
	return nil
}

// Publish implements rpc.Broker.
func (b *Broker) Publish(ctx context.Context, spec rpc.PublishSpec, msg rpc.Message) error {
	b.mu.Lock()
	b.Publishes++
	var targets []string
	for _, bd := range b.bindings {
		if bd.exchange == spec.Exchange && bd.routingKey == spec.RoutingKey {
			targets = append(targets, bd.queue)
		}
	}
	var channels []chan rpc.Delivery
	for _, q := range targets {
		if qu, ok := b.queues[q]; ok {
			for _, sub := range qu.subs {
				channels = append(channels, sub.ch)
			}
		}
	}
	b.mu.Unlock()

	d := rpc.Delivery{
		Headers:       msg.Headers,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		Priority:      msg.Priority,
		Body:          msg.Body,
		Acknowledger:  noopAcknowledger{},
	}
	for _, ch := range channels {
		ch <- d
	}
	return nil
}

// Consume implements rpc.Broker. Each call opens its own delivery channel,
// mirroring amqp.Consumer.Subscribe; the returned cancel function closes
// that channel (and only that one), mirroring amqp.Consumer.CloseSubscription
// → channel.Cancel, so a responderHost's range loop actually terminates.
func (b *Broker) Consume(spec rpc.SubscribeSpec) (<-chan rpc.Delivery, func() error, error) {
	b.mu.Lock()
	b.ConsumeCalls++
	qu, ok := b.queues[spec.Queue]
	if !ok {
		qu = &queue{}
		b.queues[spec.Queue] = qu
	}
	sub := &subscriber{id: generateName(), ch: make(chan rpc.Delivery, 256)}
	qu.subs = append(qu.subs, sub)
	b.mu.Unlock()

	cancel := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		qu, ok := b.queues[spec.Queue]
		if !ok {
			return nil
		}
		for i, s := range qu.subs {
			if s.id == sub.id {
				qu.subs = append(qu.subs[:i], qu.subs[i+1:]...)
				close(s.ch)
				break
			}
		}
		return nil
	}
	return sub.ch, cancel, nil
}

// Recovered implements rpc.Broker.
func (b *Broker) Recovered() <-chan rpc.RecoveryEvent {
	return b.recovered
}

// SimulateRecovery injects a recovery event of the given channel kind, as a
// live broker connection would after a reconnect.
func (b *Broker) SimulateRecovery(kind rpc.ChannelKind) {
	b.recovered <- rpc.RecoveryEvent{Channel: kind}
}

var (
	nameCounter int
	nameMu      sync.Mutex
)

func generateName() string {
	nameMu.Lock()
	defer nameMu.Unlock()
	nameCounter++
	return "rpctest-anon-queue-" + strconv.Itoa(nameCounter)
}

// noopAcknowledger satisfies amqp091-go's Acknowledger interface so fake
// deliveries can be Ack/Nack'd without a real channel behind them.
type noopAcknowledger struct{}

func (noopAcknowledger) Ack(tag uint64, multiple bool) error                { return nil }
func (noopAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error { return nil }
func (noopAcknowledger) Reject(tag uint64, requeue bool) error              { return nil }

package rpc

import (
	"context"

	"github.com/c0c0bird/easynetq-go/amqp"
)

// Headers carries free-form message metadata, including the fault markers
// the Responder Host and Request Dispatcher use to signal a responder-side
// failure (§4.4, §7).
type Headers = map[string]interface{}

// Well-known header keys (§3) used to propagate a responder fault back to
// the requester, since the AMQP wire format has no first-class "this is an
// error" bit.
const (
	headerFaulted       = "IsFaulted"
	headerFaultedReason = "ExceptionMessage"
)

// Message is the payload handed to Publish and received from Consume.
type Message = amqp.Message

// Delivery is a message received from a subscription, including the
// metadata needed to ack/nack it and to route a reply.
type Delivery = amqp.Delivery

// QueueSpec describes a queue the rpc package needs declared.
type QueueSpec struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  map[string]interface{}
}

// SubscribeSpec describes a subscription the rpc package opens.
type SubscribeSpec struct {
	Queue     string
	Exclusive bool
	Arguments map[string]interface{}
}

// PublishSpec describes where and how a message is published.
type PublishSpec struct {
	Exchange   string
	RoutingKey string
	Mandatory  bool
	Confirm    bool
}

// ChannelKind distinguishes which of a broker client's channels a
// RecoveryEvent concerns. Only Consumer recovery invalidates pending
// requests and subscriptions (§4.5); Producer recovery is reported but
// otherwise ignored by the Recovery Listener.
type ChannelKind int

const (
	ConsumerChannel ChannelKind = iota
	ProducerChannel
)

// RecoveryEvent is emitted by a Broker whenever one of its channels
// transitions from unavailable to available, including the very first
// connect.
type RecoveryEvent struct {
	Channel ChannelKind
}

// Broker is the seam between the rpc package (the RPC correlation and
// subscription engine, §1) and a concrete "broker client" (§1's explicitly
// out-of-scope collaborator). amqp.Consumer and amqp.Publisher, combined via
// AMQPBroker, satisfy this interface; tests satisfy it with an in-memory
// fake (see rpctest).
type Broker interface {
	// DeclareExchange ensures a direct exchange with the given name exists.
	DeclareExchange(name string, durable bool) error

	// DeclareQueue ensures a queue matching spec exists and returns its
	// final name (relevant when Name is empty and the broker assigns one).
	DeclareQueue(spec QueueSpec) (string, error)

	// Bind connects an exchange to a queue under the given routing key.
	Bind(exchange, queue, routingKey string) error

	// Publish sends a message. When spec.Confirm is set, Publish blocks
	// until the broker acknowledges receipt.
	Publish(ctx context.Context, spec PublishSpec, msg Message) error

	// Consume opens a subscription and returns its delivery channel plus a
	// function that cancels it. The channel closes when the subscription is
	// cancelled or the underlying connection is lost.
	Consume(spec SubscribeSpec) (<-chan Delivery, func() error, error)

	// Recovered returns a channel that receives an event every time one of
	// the broker's channels transitions from unavailable to available,
	// including the very first connect. Used by the Recovery Listener
	// (§4.5) to invalidate pending requests and subscriptions after an
	// unexpected disconnect of the consumer channel specifically.
	Recovered() <-chan RecoveryEvent
}

package rpc

import (
	"context"

	"github.com/c0c0bird/easynetq-go/amqp"
	"github.com/c0c0bird/easynetq-go/eventbus"
)

// AMQPBroker adapts a pair of amqp.Publisher/amqp.Consumer sessions into the
// Broker interface the rpc package consumes. The Request Dispatcher and
// Responder Host both need to declare topology, consume and publish, which
// the teacher package splits across two session types; AMQPBroker is the
// seam that lets either be used for either side (declaring a queue only
// requires a ready channel, not specifically a consumer one).
type AMQPBroker struct {
	pub *amqp.Publisher
	con *amqp.Consumer

	recovered *eventbus.Bus[RecoveryEvent]
	done      chan struct{}
}

// NewAMQPBroker builds a Broker backed by the given publisher and consumer
// sessions. Either may be nil, but a Broker missing a consumer cannot
// Consume, and one missing a publisher cannot Publish; a Bus normally wires
// both.
func NewAMQPBroker(pub *amqp.Publisher, con *amqp.Consumer) *AMQPBroker {
	b := &AMQPBroker{
		pub:       pub,
		con:       con,
		recovered: eventbus.New[RecoveryEvent](),
		done:      make(chan struct{}),
	}
	if pub != nil {
		go b.forwardReady(pub.Ready(), ProducerChannel)
	}
	if con != nil {
		go b.forwardReady(con.Ready(), ConsumerChannel)
	}
	return b
}

func (b *AMQPBroker) forwardReady(ch <-chan bool, kind ChannelKind) {
	for {
		select {
		case <-b.done:
			return
		case ready, ok := <-ch:
			if !ok {
				return
			}
			if ready {
				b.recovered.Publish(RecoveryEvent{Channel: kind})
			}
		}
	}
}

// Recovered implements Broker.
func (b *AMQPBroker) Recovered() <-chan RecoveryEvent {
	ch := make(chan RecoveryEvent, 4)
	b.recovered.Subscribe(func(ev RecoveryEvent) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

// Close stops forwarding readiness notifications. It does not close the
// underlying publisher/consumer sessions.
func (b *AMQPBroker) Close() {
	close(b.done)
}

// DeclareExchange implements Broker.
func (b *AMQPBroker) DeclareExchange(name string, durable bool) error {
	ex := amqp.Exchange{Name: name, Kind: "direct", Durable: durable}
	if b.con != nil {
		return b.con.AddExchange(ex)
	}
	return b.pub.AddExchange(ex)
}

// DeclareQueue implements Broker.
func (b *AMQPBroker) DeclareQueue(spec QueueSpec) (string, error) {
	q := amqp.Queue{
		Name:       spec.Name,
		Durable:    spec.Durable,
		Exclusive:  spec.Exclusive,
		AutoDelete: spec.AutoDelete,
		Arguments:  spec.Arguments,
	}
	if b.con != nil {
		return b.con.AddQueue(q)
	}
	return b.pub.AddQueue(q)
}

// Bind implements Broker.
func (b *AMQPBroker) Bind(exchange, queue, routingKey string) error {
	bd := amqp.Binding{Exchange: exchange, Queue: queue, RoutingKey: []string{routingKey}}
	if b.con != nil {
		return b.con.AddBinding(bd)
	}
	return b.pub.AddBinding(bd)
}

// Publish implements Broker.
func (b *AMQPBroker) Publish(ctx context.Context, spec PublishSpec, msg Message) error {
	opts := amqp.MessageOptions{
		Exchange:   spec.Exchange,
		RoutingKey: spec.RoutingKey,
		Mandatory:  spec.Mandatory,
		Priority:   msg.Priority,
	}
	if spec.Confirm {
		_, err := b.pub.Push(msg, opts)
		return err
	}
	return b.pub.UnsafePush(msg, opts)
}

// Consume implements Broker.
func (b *AMQPBroker) Consume(spec SubscribeSpec) (<-chan Delivery, func() error, error) {
	dc, id, err := b.con.Subscribe(amqp.SubscribeOptions{
		Queue:     spec.Queue,
		Exclusive: spec.Exclusive,
		Arguments: spec.Arguments,
	})
	if err != nil {
		return nil, nil, err
	}
	return dc, func() error { return b.con.CloseSubscription(id) }, nil
}

package main

import (
	xamqp "github.com/c0c0bird/easynetq-go/amqp"
	"github.com/c0c0bird/easynetq-go/rpc"
	xlog "go.bryk.io/pkg/log"
)

// dialBroker opens one publisher and one consumer session against addr and
// adapts them into an rpc.Broker. Both sessions share the logger and
// reconnect independently; the rpc package only observes the consumer
// session's recovery events (§4.5).
func dialBroker(addr string, log xlog.Logger) (*rpc.AMQPBroker, *xamqp.Publisher, *xamqp.Consumer, error) {
	pub, err := xamqp.NewPublisher(addr, xamqp.WithLogger(log.Sub(xlog.Fields{"role": "publisher"})))
	if err != nil {
		return nil, nil, nil, err
	}
	con, err := xamqp.NewConsumer(addr, xamqp.WithLogger(log.Sub(xlog.Fields{"role": "consumer"})))
	if err != nil {
		_ = pub.Close()
		return nil, nil, nil, err
	}
	return rpc.NewAMQPBroker(pub, con), pub, con, nil
}

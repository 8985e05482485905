// Package convention supplies the naming rules the rpc package uses to turn
// a request or response Go type into concrete broker topology: exchange
// names, routing keys and reply-queue names. A Provider is a pure function
// of a reflect.Type; it never talks to the broker itself.
package convention

import (
	"reflect"
	"strings"
)

// QueueKind hints at the durability a Provider expects for a given request
// type's queue, used by the rpc package as the default when no explicit
// ResponderOption overrides it.
type QueueKind int

const (
	// Transient queues do not survive a broker restart. This is the default
	// for RPC request queues: a responder that is gone after a restart has
	// nothing useful to redeliver to anyway.
	Transient QueueKind = iota
	// Durable queues survive a broker restart.
	Durable
)

// Provider maps request/response types to the broker topology names the rpc
// package declares and binds against.
type Provider interface {
	// RPCRequestExchange names the exchange a request of this type is
	// published to.
	RPCRequestExchange(t reflect.Type) string

	// RPCRoutingKey names the routing key used both to publish a request
	// and to bind the responder's queue to the request exchange.
	RPCRoutingKey(t reflect.Type) string

	// RPCResponseExchange names the exchange replies of this type are
	// published to. A non-empty name is declared as a direct exchange. An
	// empty string selects the broker's unnamed default exchange, which is
	// neither declared nor bound; DefaultConvention never returns it.
	RPCResponseExchange(t reflect.Type) string

	// RPCReturnQueue names the queue a requester binds to receive replies
	// of this type. An empty string leaves the name to the Broker, which
	// generates one when declaring the queue.
	RPCReturnQueue(t reflect.Type) string

	// QueueType hints at the durability of the request queue for this type.
	QueueType(t reflect.Type) QueueKind
}

// QualifiedName returns a broker-name-safe identifier for t, built from its
// package path and type name (e.g. "myapp_rpc.GetAccountBalance"). Used by
// DefaultConvention and, independently, as the default response-type
// serializer (see rpc.WithResponseTypeSerializer) — the two concerns
// share the same transform but are configured separately, exactly as §6
// describes them as distinct collaborators.
func QualifiedName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	pkg := strings.NewReplacer("/", "_", ".", "_").Replace(t.PkgPath())
	if pkg == "" {
		return t.Name()
	}
	return pkg + "." + t.Name()
}

// DefaultConvention is the naming convention applied when a Bus is not given
// a custom Provider. It mirrors EasyNetQ's own default conventions: names
// are derived from the request/response type name, the reply exchange is
// always a distinct, declarable exchange (never the broker's nameless
// default), and reply queues are anonymous (named by the Broker when
// declared, exclusive to the requesting connection).
type DefaultConvention struct{}

// RPCRequestExchange implements Provider.
func (DefaultConvention) RPCRequestExchange(t reflect.Type) string {
	return QualifiedName(t) + ".rpc-request"
}

// RPCRoutingKey implements Provider.
func (DefaultConvention) RPCRoutingKey(t reflect.Type) string {
	return QualifiedName(t)
}

// RPCResponseExchange implements Provider.
func (DefaultConvention) RPCResponseExchange(t reflect.Type) string {
	return QualifiedName(t) + ".rpc-response"
}

// RPCReturnQueue implements Provider. An empty name leaves the reply
// queue's name to the Broker; the queue is declared exclusive and
// auto-delete per requester instance.
func (DefaultConvention) RPCReturnQueue(reflect.Type) string {
	return ""
}

// QueueType implements Provider; request queues default to transient.
func (DefaultConvention) QueueType(reflect.Type) QueueKind {
	return Transient
}

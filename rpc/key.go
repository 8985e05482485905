package rpc

import (
	"reflect"

	"github.com/c0c0bird/easynetq-go/convention"
)

// Key identifies a single response subscription. Per §3 the key is the
// (TRequest, TResponse) pair, not TResponse alone: two request types that
// happen to share a response type must not be routed through the same reply
// queue, since their request exchanges/routing keys differ and a responder
// bound only to one of them would silently never see the other's traffic.
type Key struct {
	Request  string
	Response string
}

func keyFor(reqType, respType reflect.Type) Key {
	return Key{
		Request:  convention.QualifiedName(reqType),
		Response: convention.QualifiedName(respType),
	}
}

func (k Key) String() string {
	return k.Request + "->" + k.Response
}

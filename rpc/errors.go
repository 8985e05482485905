package rpc

import "go.bryk.io/pkg/errors"

// Sentinel errors. Each is constructed exactly once as a package-level
// value: go.bryk.io/pkg/errors.Is compares candidates with reflect.DeepEqual
// before walking cause chains, and *errors.Error carries a construction
// timestamp, so two independently-"New"'d errors with the same message are
// never equal. Returning (or wrapping) these exact values, rather than
// calling errors.New with the same text at another call site, is what makes
// errors.Is(err, rpc.ErrCancelled) reliable.
var (
	// ErrCancelled is returned by Request when the composed cancellation
	// token (caller context plus the per-request expiration) fires before a
	// reply, fault or connection-loss notification arrives. A caller that
	// needs to distinguish an explicit cancellation from a timeout should
	// check its own context's Err() directly; both surface the same way here.
	ErrCancelled = errors.New("rpc: request cancelled or timed out")

	// ErrConnectionLost is delivered to every pending request still
	// outstanding when the Recovery Listener observes the broker connection
	// drop (§4.5). Requests in flight at that moment cannot know whether
	// their message, or its reply, reached the broker.
	ErrConnectionLost = errors.New("rpc: broker connection lost")

	// ErrResponseTypeTooLong is returned immediately by Respond, before any
	// broker interaction, when the response type's serialized name exceeds
	// the 255-byte header-value limit the AMQP wire format allows.
	ErrResponseTypeTooLong = errors.New("rpc: response type name exceeds 255 bytes")

	// ErrClosed is returned by Request and Respond once the owning Bus has
	// been closed.
	ErrClosed = errors.New("rpc: bus is closed")
)

// ResponderFault is returned by Request when the responder explicitly
// reported a failure to process the request, instead of replying with a
// value. It is distinct from a transport-level error: the request reached
// the responder and was understood, but could not be fulfilled.
type ResponderFault struct {
	// Message is the exception/fault text supplied by the responder.
	Message string
}

// defaultFaultMessage is substituted when a fault reply carries no
// exception message header at all (§7).
const defaultFaultMessage = "The exception message has not been specified."

func (f *ResponderFault) Error() string {
	return "rpc: responder fault: " + f.Message
}

package rpc

import "sync"

// result carries whatever the Response Subscription Registry's consumer
// loop observed for one correlation id: either a reply body, a responder
// fault, or a terminal error (lost connection). Exactly one of these is set.
type result struct {
	body    []byte
	headers Headers
	faulted bool
	fault   string
	err     error
}

// pendingRequest is the completion sink for a single in-flight request
// (§3 "Pending Request"). complete is idempotent: only the first caller's
// outcome is observed, matching §4.3's "idempotent completion" invariant —
// a late reply arriving after the request was already cancelled or
// completed must be silently dropped, not queued or double-delivered.
type pendingRequest struct {
	done chan result
	once sync.Once
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan result, 1)}
}

// complete delivers r to the caller awaiting this request, if none has been
// delivered yet. Returns false if this request was already completed.
func (p *pendingRequest) complete(r result) bool {
	delivered := false
	p.once.Do(func() {
		p.done <- r
		delivered = true
	})
	return delivered
}

// pendingTable is the Pending-Request Table (§4.3): a correlation-id-keyed
// map from in-flight requests to their completion sink. Backed by sync.Map
// for lock-free lookups on the hot delivery path (one reply arriving while
// N other requests are being registered concurrently, §5) and for the
// atomic "detach and forget" tryRemove needs so a reply racing a client-side
// cancellation can only ever be claimed once.
type pendingTable struct {
	m sync.Map // correlation id (string) -> *pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{}
}

func (t *pendingTable) store(correlationID string, p *pendingRequest) {
	t.m.Store(correlationID, p)
}

// tryRemove atomically detaches the pending request for correlationID, if
// still present, and returns it. Both the reply-handling path and the
// request-timeout/cancellation path call this; whichever wins the race gets
// a non-nil result, the other gets nil and must do nothing further.
func (t *pendingTable) tryRemove(correlationID string) *pendingRequest {
	v, ok := t.m.LoadAndDelete(correlationID)
	if !ok {
		return nil
	}
	return v.(*pendingRequest)
}

// snapshotAndClear drains the table, removing and returning every pending
// request it visits. Used by the Recovery Listener (§4.5) to fail every
// in-flight request with ErrConnectionLost after an unexpected disconnect.
// The drain is a sync.Map Range, not a consistent snapshot: a request
// registered while it runs may or may not be included.
func (t *pendingTable) snapshotAndClear() []*pendingRequest {
	var out []*pendingRequest
	t.m.Range(func(key, value interface{}) bool {
		t.m.Delete(key)
		out = append(out, value.(*pendingRequest))
		return true
	})
	return out
}

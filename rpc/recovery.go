package rpc

import xlog "go.bryk.io/pkg/log"

// recoveryListener is the Recovery Listener (§4.5). It subscribes to the
// broker's RecoveryEvent stream at construction and, on every event whose
// channel is the consumer channel, invalidates every outstanding pending
// request and reply subscription so that the next request rebuilds them
// against the newly-established connection.
type recoveryListener struct {
	broker   Broker
	pending  *pendingTable
	registry *subscriptionRegistry
	log      xlog.Logger

	events <-chan RecoveryEvent
	done   chan struct{}
}

func newRecoveryListener(broker Broker, pending *pendingTable, registry *subscriptionRegistry, log xlog.Logger) *recoveryListener {
	return &recoveryListener{
		broker:   broker,
		pending:  pending,
		registry: registry,
		log:      log,
		done:     make(chan struct{}),
	}
}

func (r *recoveryListener) start() {
	r.events = r.broker.Recovered()
	go r.run()
}

func (r *recoveryListener) run() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			if ev.Channel != ConsumerChannel {
				continue
			}
			r.invalidate()
		}
	}
}

// invalidate implements §4.5 steps 1-3: drain the pending table, tear down
// every cached reply subscription so the registry re-declares on next use,
// and only then fail every drained request with ErrConnectionLost, so a
// caller that retries on that error never reuses a torn-down subscription.
func (r *recoveryListener) invalidate() {
	lost := r.pending.snapshotAndClear()
	r.log.WithFields(xlog.Fields{"pending": len(lost)}).Warning("consumer channel recovered, invalidating in-flight requests")
	r.registry.invalidate()
	for _, pr := range lost {
		pr.complete(result{err: ErrConnectionLost})
	}
}

// stop ends the listener goroutine; the channel obtained from
// Broker.Recovered is neither closed nor unsubscribed. Per §9, this must
// happen before closing subscription handles so a concurrent recovery
// callback cannot race the engine's own teardown.
func (r *recoveryListener) stop() {
	close(r.done)
}

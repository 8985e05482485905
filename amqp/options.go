package amqp

import (
	"crypto/tls"

	xlog "go.bryk.io/pkg/log"
)

// Option settings provide a functional-style mechanism to adjust the
// behavior of a new session (publisher or consumer) at construction time.
type Option func(*session) error

// WithLogger sets the logger instance used to report internal events. When
// not provided, log entries are discarded.
func WithLogger(ll xlog.Logger) Option {
	return func(s *session) error {
		s.log = ll
		return nil
	}
}

// WithName sets an identifier for the session instance, used as a prefix
// when generating queue and consumer names. If not set, a random name of
// the form "session-*" is used for publishers and consumers alike.
func WithName(name string) Option {
	return func(s *session) error {
		s.name = name
		return nil
	}
}

// WithTLS sets the TLS settings to use when connecting to an "amqps"
// endpoint. A nil value (the default) disables transport security.
func WithTLS(conf *tls.Config) Option {
	return func(s *session) error {
		s.tlsConf = conf
		return nil
	}
}

// WithPrefetch adjusts the "quality of service" settings applied to the
// session's channel: "count" limits the number of unacknowledged messages
// a consumer may have in flight, "size" limits the same by total bytes.
func WithPrefetch(count, size int) Option {
	return func(s *session) error {
		s.prefetchCount = count
		s.prefetchSize = size
		return nil
	}
}

// WithTopology loads a pre-defined set of exchanges, queues and bindings to
// be declared as soon as the session connects (and re-declared on every
// reconnect).
func WithTopology(t Topology) Option {
	return func(s *session) error {
		s.topology = t
		return nil
	}
}

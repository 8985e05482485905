package amqp

import (
	"crypto/tls"
	"testing"

	tdd "github.com/stretchr/testify/assert"
	xlog "go.bryk.io/pkg/log"
)

func TestOptions(t *testing.T) {
	assert := tdd.New(t)
	ll := xlog.Discard()
	tc := &tls.Config{} //nolint:gosec // test fixture only
	top := Topology{Queues: []Queue{{Name: "sample"}}}

	s := &session{}
	opts := []Option{
		WithLogger(ll),
		WithName("custom"),
		WithTLS(tc),
		WithPrefetch(5, 1024),
		WithTopology(top),
	}
	for _, o := range opts {
		assert.Nil(o(s), "apply option")
	}

	assert.Equal(ll, s.log)
	assert.Equal("custom", s.name)
	assert.Equal(tc, s.tlsConf)
	assert.Equal(5, s.prefetchCount)
	assert.Equal(1024, s.prefetchSize)
	assert.Equal(top, s.topology)
}

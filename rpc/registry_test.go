package rpc

import (
	"reflect"
	"testing"

	"github.com/c0c0bird/easynetq-go/convention"
	"github.com/c0c0bird/easynetq-go/rpc/rpctest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xlog "go.bryk.io/pkg/log"
)

// Internal (white-box) test: registry.Len/Keys and the ActiveSubscriptions
// gauge are unexported-package-adjacent enough that exercising them needs a
// package rpc test, not the public rpc_test suite.
func TestRegistryLenKeysAndMetrics(t *testing.T) {
	broker := rpctest.New()
	pending := newPendingTable()
	metrics := NewMetrics("test")
	reg := newSubscriptionRegistry(broker, convention.DefaultConvention{}, pending, xlog.Discard(), metrics)

	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Keys())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveSubscriptions))

	key := keyFor(reflect.TypeOf(""), reflect.TypeOf(""))
	_, err := reg.ensure(key, reflect.TypeOf(""))
	require.NoError(t, err)

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []Key{key}, reg.Keys())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveSubscriptions))

	reg.invalidate()
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveSubscriptions))
}

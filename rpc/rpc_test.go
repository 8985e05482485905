package rpc_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c0c0bird/easynetq-go/rpc"
	"github.com/c0c0bird/easynetq-go/rpc/rpctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Echo is the literal scenario 1: responder for string -> string returning
// the input unchanged.
func TestRequestEcho(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(time.Second))
	defer bus.Close()

	closer, err := rpc.Respond[string, string](bus, func(ctx context.Context, req string, h rpc.Headers) (string, error) {
		return req, nil
	})
	require.NoError(t, err)
	defer closer.Close()

	out, err := rpc.Request[string, string](context.Background(), bus, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

// Scenario 2: responder reports a fault; caller observes ResponderFault with
// the original message, carried back through the well-known fault headers.
func TestRequestFaultPropagation(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(time.Second))
	defer bus.Close()

	closer, err := rpc.Respond[int, string](bus, func(ctx context.Context, req int, h rpc.Headers) (string, error) {
		return "", errors.New("boom")
	})
	require.NoError(t, err)
	defer closer.Close()

	_, err = rpc.Request[int, string](context.Background(), bus, 42)
	require.Error(t, err)

	var fault *rpc.ResponderFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "boom", fault.Message)
}

// Scenario 3: no responder bound, request expires after >=50ms.
func TestRequestTimeout(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker)
	defer bus.Close()

	start := time.Now()
	_, err := rpc.Request[string, string](context.Background(), bus, "?", rpc.WithExpiration(50*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, rpc.ErrCancelled)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

// Scenario 4: 1,000 concurrent requests of the same type pair all get the
// correct reply and share one reply queue/consumer.
func TestRequestConcurrentReuse(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(5*time.Second), rpc.WithResponderConcurrency(32))
	defer bus.Close()

	closer, err := rpc.Respond[int, int](bus, func(ctx context.Context, req int, h rpc.Headers) (int, error) {
		return req + 1, nil
	})
	require.NoError(t, err)
	defer closer.Close()

	// Respond declared its own request queue and consumer; count only what
	// the requests add on top of that.
	queuesBefore := broker.QueueDeclares
	consumersBefore := broker.ConsumeCalls

	const n = 1000
	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := rpc.Request[int, int](context.Background(), bus, i)
			if err != nil || out != i+1 {
				atomic.AddInt32(&failures, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, failures)
	assert.Equal(t, 1, broker.QueueDeclares-queuesBefore, "exactly one reply queue should have been declared")
	assert.Equal(t, 1, broker.ConsumeCalls-consumersBefore, "exactly one consumer should have been started")
}

// Stale/absent correlation ids are dropped silently, never raised.
func TestStaleReplyDropped(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(200*time.Millisecond))
	defer bus.Close()

	// The responder holds its reply to "x" until that request has timed
	// out, so the reply arrives for a correlation id no longer pending.
	release := make(chan struct{})
	closer, err := rpc.Respond[string, string](bus, func(ctx context.Context, req string, h rpc.Headers) (string, error) {
		if req == "x" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return req, nil
	})
	require.NoError(t, err)
	defer closer.Close()

	_, err = rpc.Request[string, string](context.Background(), bus, "x", rpc.WithExpiration(10*time.Millisecond))
	require.ErrorIs(t, err, rpc.ErrCancelled)
	close(release)

	// A second, successful request on the same key must still work — the
	// registry's consumer loop must not have wedged on the stale reply,
	// which the sequential responder publishes before the reply to "y".
	out, err := rpc.Request[string, string](context.Background(), bus, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", out)
}

// A responder that has not replied within the request's expiration makes
// the caller observe ErrCancelled; its reply, released only at cleanup,
// then arrives for a correlation id that is no longer pending
// (TestStaleReplyDropped checks that such a reply is dropped).
func TestLateReplyAfterCancelIsDropped(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(time.Second))
	defer bus.Close()

	release := make(chan struct{})
	closer, err := rpc.Respond[string, string](bus, func(ctx context.Context, req string, h rpc.Headers) (string, error) {
		<-release
		return req, nil
	})
	require.NoError(t, err)
	defer func() {
		close(release)
		closer.Close()
	}()

	_, err = rpc.Request[string, string](context.Background(), bus, "slow", rpc.WithExpiration(20*time.Millisecond))
	require.ErrorIs(t, err, rpc.ErrCancelled)
}

// Connection-recovered events of type Consumer fail every outstanding
// request with ConnectionLost and force the next request to re-declare.
func TestRecoveryInvalidatesPendingRequests(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(5*time.Second))
	defer bus.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := rpc.Request[string, string](context.Background(), bus, "never answered")
		errCh <- err
	}()

	// Give the request time to register and ensure its subscription.
	time.Sleep(50 * time.Millisecond)
	declaresBefore := broker.QueueDeclares

	broker.SimulateRecovery(rpc.ConsumerChannel)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, rpc.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("request did not observe connection loss")
	}

	closer, err := rpc.Respond[string, string](bus, func(ctx context.Context, req string, h rpc.Headers) (string, error) {
		return req, nil
	})
	require.NoError(t, err)
	defer closer.Close()

	out, err := rpc.Request[string, string](context.Background(), bus, "again")
	require.NoError(t, err)
	assert.Equal(t, "again", out)
	// Respond above declared its own request queue; the reply queue
	// re-declaration is the one beyond that.
	assert.Greater(t, broker.QueueDeclares, declaresBefore+1, "recovery should force re-declaration of the reply queue")
}

// Non-Consumer recovered events are ignored.
func TestNonConsumerRecoveryIgnored(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithTimeout(time.Second))
	defer bus.Close()

	closer, err := rpc.Respond[string, string](bus, func(ctx context.Context, req string, h rpc.Headers) (string, error) {
		return req, nil
	})
	require.NoError(t, err)
	defer closer.Close()

	_, err = rpc.Request[string, string](context.Background(), bus, "warm up")
	require.NoError(t, err)

	broker.SimulateRecovery(rpc.ProducerChannel)
	time.Sleep(20 * time.Millisecond)

	out, err := rpc.Request[string, string](context.Background(), bus, "still fine")
	require.NoError(t, err)
	assert.Equal(t, "still fine", out)
}

// Scenario 6: a response type whose serialized name exceeds 255 bytes fails
// Respond immediately, before any broker declarations.
func TestRespondRejectsOversizedResponseTypeName(t *testing.T) {
	broker := rpctest.New()
	bus := rpc.New(broker, rpc.WithResponseTypeSerializer(func(_ reflect.Type) string {
		return fmt.Sprintf("%0256d", 0)
	}))
	defer bus.Close()

	_, err := rpc.Respond[string, string](bus, func(ctx context.Context, req string, h rpc.Headers) (string, error) {
		return req, nil
	})
	require.ErrorIs(t, err, rpc.ErrResponseTypeTooLong)
	assert.Zero(t, broker.ExchangeDeclares)
	assert.Zero(t, broker.QueueDeclares)
}

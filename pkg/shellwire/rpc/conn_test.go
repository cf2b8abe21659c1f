package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/stream"
	"github.com/tsarna/shellwire/pkg/shellwire/wire"
)

func TestBuilderRequiresTransport(t *testing.T) {
	_, err := NewConn().Build()
	assert.Error(t, err)
}

func TestQueryRoundTrip(t *testing.T) {
	client, server := connPair(t)

	Handle(server, isMaximized, func(ctx context.Context, in kinds.Empty) (windowState, error) {
		return windowState{Maximized: true}, nil
	})
	Handle(server, echo, func(ctx context.Context, in string) (string, error) {
		return "echo:" + in, nil
	})

	state, err := Query(context.Background(), client, isMaximized, kinds.Empty{})
	require.NoError(t, err)
	assert.True(t, state.Maximized)

	t.Run("concurrent queries are correlated", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				in := fmt.Sprintf("msg-%d", i)
				out, err := Query(context.Background(), client, echo, in)
				assert.NoError(t, err)
				assert.Equal(t, "echo:"+in, out)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 0, client.Pending())
	})
}

func TestOutOfOrderResponses(t *testing.T) {
	client, peer := newClientWithPeer(t)

	type answer struct {
		in, out string
		err     error
	}
	answers := make(chan answer, 2)
	for _, in := range []string{"first", "second"} {
		go func(in string) {
			out, err := Query(context.Background(), client, echo, in)
			answers <- answer{in: in, out: out, err: err}
		}(in)
	}

	q1 := peer.next()
	q2 := peer.next()
	assert.NotEqual(t, q1.ID, q2.ID, "correlation ids are never reused")

	// Answer in reverse order of arrival.
	for _, q := range []wire.Envelope{q2, q1} {
		var in string
		require.NoError(t, json.Unmarshal(q.Payload, &in))
		reply, err := wire.NewResult(q.Name, q.ID, "re:"+in)
		require.NoError(t, err)
		peer.send(reply)
	}

	for i := 0; i < 2; i++ {
		a := <-answers
		require.NoError(t, a.err)
		assert.Equal(t, "re:"+a.in, a.out)
	}
}

func TestUnmatchedResponseIsDropped(t *testing.T) {
	client, peer := newClientWithPeer(t)

	got := make(chan windowState, 1)
	Listen(client, maximizedChanged, func(ctx context.Context, p windowState) error {
		got <- p
		return nil
	})

	stray, err := wire.NewResult("isMaximized", 4242, windowState{Maximized: true})
	require.NoError(t, err)
	peer.send(stray)

	packet, err := wire.NewPacket("maximizedChanged", windowState{Maximized: true})
	require.NoError(t, err)
	peer.send(packet)

	select {
	case p := <-got:
		assert.True(t, p.Maximized)
	case <-time.After(waitFor):
		t.Fatal("packet after stray response was not delivered")
	}
	assert.Equal(t, StateOpen, client.State())
}

func TestPacketDispatchOrderAndIsolation(t *testing.T) {
	metrics := o11y.NewMemoryProvider("test")
	client, peer := newClientWithPeer(t, func(b *ConnBuilder) {
		b.WithObservability(o11y.Config{MetricsProvider: metrics})
	})

	var calls []string
	done := make(chan struct{})

	client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
		calls = append(calls, "a")
		return errors.New("handler a failed")
	})
	client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
		calls = append(calls, "b")
		panic("handler b exploded")
	})
	client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
		calls = append(calls, "c")
		close(done)
		return nil
	})

	peer.sendRaw(`{"k":"p","n":"maximizedChanged","d":{"maximized":false}}`)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("third handler was not reached")
	}

	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.Equal(t, int64(1), metrics.CounterValue("shellwire_packets_total", o11y.Label{Key: "kind", Value: "maximizedChanged"}))
	assert.Equal(t, int64(1), metrics.CounterValue("shellwire_dispatch_errors_total",
		o11y.Label{Key: "kind", Value: "maximizedChanged"}, o11y.Label{Key: "operation", Value: "handler"}))
	assert.Equal(t, int64(1), metrics.CounterValue("shellwire_dispatch_errors_total",
		o11y.Label{Key: "kind", Value: "maximizedChanged"}, o11y.Label{Key: "operation", Value: "panic"}))
	assert.Equal(t, StateOpen, client.State())
}

func TestUnsubscribe(t *testing.T) {
	client, peer := newClientWithPeer(t)

	removed := make(chan struct{}, 1)
	kept := make(chan struct{}, 1)

	unsubscribe := client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
		removed <- struct{}{}
		return nil
	})
	client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
		kept <- struct{}{}
		return nil
	})
	assert.Equal(t, 2, client.Subscribers(maximizedChanged))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, client.Subscribers(maximizedChanged))

	peer.sendRaw(`{"k":"p","n":"maximizedChanged","d":{"maximized":true}}`)

	select {
	case <-kept:
	case <-time.After(waitFor):
		t.Fatal("remaining subscriber was not called")
	}
	assert.Len(t, removed, 0)
}

func TestUnknownKinds(t *testing.T) {
	client, peer := newClientWithPeer(t)

	t.Run("undeclared packet is dropped", func(t *testing.T) {
		undeclaredCalled := make(chan struct{}, 1)
		declared := make(chan struct{}, 1)
		client.Subscribe(undeclared, func(ctx context.Context, payload json.RawMessage) error {
			undeclaredCalled <- struct{}{}
			return nil
		})
		client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
			declared <- struct{}{}
			return nil
		})

		peer.sendRaw(`{"k":"p","n":"undeclared"}`)
		peer.sendRaw(`{"k":"p","n":"maximizedChanged","d":{"maximized":true}}`)

		select {
		case <-declared:
		case <-time.After(waitFor):
			t.Fatal("declared packet was not delivered")
		}
		assert.Len(t, undeclaredCalled, 0)
	})

	t.Run("inbound query without handler gets an error reply", func(t *testing.T) {
		peer.sendRaw(`{"k":"q","n":"mystery","i":5}`)

		reply := peer.next()
		assert.Equal(t, wire.TypeError, reply.Type)
		assert.Equal(t, int64(5), reply.ID)
		assert.Contains(t, reply.Error, "unknown message kind")
	})

	t.Run("malformed frames are ignored", func(t *testing.T) {
		peer.sendRaw(`not json`)
		peer.sendRaw(`{"k":"q","n":"echo"}`)
		assert.Equal(t, StateOpen, client.State())
	})
}

func TestRemoteErrors(t *testing.T) {
	client, server := connPair(t)

	Handle(server, echo, func(ctx context.Context, in string) (string, error) {
		if in == "panic" {
			panic("boom")
		}
		return "", errors.New("cave not found")
	})

	_, err := Query(context.Background(), client, echo, "x")
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "echo", remote.Kind)
	assert.Equal(t, "cave not found", remote.Detail)

	_, err = Query(context.Background(), client, echo, "panic")
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Detail, "handler panic")
	assert.Equal(t, StateOpen, server.State())
}

func TestMalformedResult(t *testing.T) {
	client, peer := newClientWithPeer(t)

	errs := make(chan error, 1)
	go func() {
		_, err := Query(context.Background(), client, isMaximized, kinds.Empty{})
		errs <- err
	}()

	q := peer.next()
	peer.send(wire.Envelope{Type: wire.TypeResult, Name: q.Name, ID: q.ID, Payload: json.RawMessage(`"oops"`)})

	err := <-errs
	assert.True(t, errors.Is(err, ErrMalformedEnvelope), "got %v", err)
}

func TestTimeouts(t *testing.T) {
	client, peer := newClientWithPeer(t, func(b *ConnBuilder) {
		b.WithTimeout(50 * time.Millisecond)
	})

	t.Run("request window", func(t *testing.T) {
		_, err := Query(context.Background(), client, echo, "never answered")
		peer.next()
		assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
		assert.Equal(t, 0, client.Pending())
	})

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := Query(ctx, client, echo, "never answered")
		peer.next()
		assert.True(t, errors.Is(err, ErrTimeout))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("caller cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			peer.next()
			cancel()
		}()

		_, err := Query(ctx, client, echo, "cancelled")
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, errors.Is(err, ErrTimeout))
		assert.Equal(t, 0, client.Pending())
	})
}

func TestCloseFailsPendingRequests(t *testing.T) {
	client, peer := newClientWithPeer(t)

	client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error { return nil })

	errs := make(chan error, 1)
	go func() {
		_, err := Query(context.Background(), client, echo, "in flight")
		errs <- err
	}()
	peer.next()

	require.NoError(t, client.Close())

	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, ErrConnectionClosed), "got %v", err)
	case <-time.After(waitFor):
		t.Fatal("pending request was not failed")
	}

	assert.Equal(t, StateClosed, client.State())
	assert.Equal(t, 0, client.Subscribers(maximizedChanged))
	assert.Equal(t, 0, client.Pending())
	waitClosed(t, client)

	_, err := Query(context.Background(), client, echo, "after close")
	assert.True(t, errors.Is(err, ErrConnectionClosed))
	assert.True(t, errors.Is(client.Publish(context.Background(), maximizedChanged, nil), ErrConnectionClosed))

	unsubscribe := client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error { return nil })
	unsubscribe()
	assert.Equal(t, 0, client.Subscribers(maximizedChanged))
	assert.NoError(t, client.Close())
}

func TestPeerDisconnect(t *testing.T) {
	client, peer := newClientWithPeer(t)

	errs := make(chan error, 1)
	go func() {
		_, err := Query(context.Background(), client, echo, "in flight")
		errs <- err
	}()
	peer.next()
	peer.tr.Close("peer gone")

	assert.True(t, errors.Is(<-errs, ErrConnectionClosed))
	waitClosed(t, client)
	assert.True(t, errors.Is(client.Err(), ErrConnectionClosed))
}

func TestCloseFromPacketHandler(t *testing.T) {
	client, peer := newClientWithPeer(t)

	client.Subscribe(maximizedChanged, func(ctx context.Context, payload json.RawMessage) error {
		return client.Close()
	})
	peer.sendRaw(`{"k":"p","n":"maximizedChanged","d":{"maximized":true}}`)

	waitClosed(t, client)
	assert.Equal(t, StateClosed, client.State())
}

func TestNotConnected(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	conn, err := NewConn().WithTransport(stream.New(a)).Build()
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, conn.State())

	_, err = conn.Request(context.Background(), echo, "x")
	assert.True(t, errors.Is(err, ErrNotConnected))

	require.NoError(t, conn.Close())
	waitClosed(t, conn)
	assert.Error(t, conn.Start(context.Background()), "a closed connection cannot be restarted")
}

func TestMonitorSeesLifecycle(t *testing.T) {
	monitor := &recordingMonitor{transitions: make(chan [2]State, 4)}
	client, _ := newClientWithPeer(t, func(b *ConnBuilder) { b.WithMonitor(monitor) })

	require.NoError(t, client.Close())
	waitClosed(t, client)

	assert.Equal(t, [2]State{StateConnecting, StateOpen}, <-monitor.transitions)
	assert.Equal(t, [2]State{StateOpen, StateClosing}, <-monitor.transitions)
	assert.Equal(t, [2]State{StateClosing, StateClosed}, <-monitor.transitions)
}

func TestPublishReachesPeer(t *testing.T) {
	client, server := connPair(t)

	got := make(chan windowState, 1)
	Listen(client, maximizedChanged, func(ctx context.Context, p windowState) error {
		got <- p
		return nil
	})

	require.NoError(t, Publish(context.Background(), server, maximizedChanged, windowState{Maximized: true}))

	select {
	case p := <-got:
		assert.True(t, p.Maximized)
	case <-time.After(waitFor):
		t.Fatal("packet not delivered")
	}
}

package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/transport/stream"
	"github.com/tsarna/shellwire/pkg/shellwire/wire"
)

type windowState struct {
	Maximized bool `json:"maximized"`
}

var (
	isMaximized      = kinds.NewQuery[kinds.Empty, windowState]("isMaximized")
	echo             = kinds.NewQuery[string, string]("echo")
	maximizedChanged = kinds.NewPacket[windowState]("maximizedChanged")
	undeclared       = kinds.NewPacket[kinds.Empty]("undeclared")

	testCatalog = kinds.NewCatalog("test", 1, isMaximized, echo, maximizedChanged)
)

const waitFor = 2 * time.Second

func startConn(t *testing.T, tr *stream.Transport, configure ...func(*ConnBuilder)) *Conn {
	t.Helper()

	b := NewConn().WithTransport(tr).WithCatalog(testCatalog)
	for _, fn := range configure {
		fn(b)
	}

	conn, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, conn.Start(context.Background()))

	t.Cleanup(func() {
		conn.Close()
		waitClosed(t, conn)
	})
	return conn
}

func waitClosed(t *testing.T, conn *Conn) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Errorf("connection %s did not shut down", conn.Name())
	}
}

// connPair returns two started connections joined by an in-memory pipe.
func connPair(t *testing.T, configure ...func(*ConnBuilder)) (client, server *Conn) {
	a, b := net.Pipe()
	client = startConn(t, stream.New(a), append(configure, func(b *ConnBuilder) { b.WithName("client") })...)
	server = startConn(t, stream.New(b), func(b *ConnBuilder) { b.WithName("server") })
	return client, server
}

// rawPeer speaks the wire format directly so tests can control exactly what the
// connection under test receives.
type rawPeer struct {
	t      *testing.T
	tr     *stream.Transport
	frames chan wire.Envelope
	stop   chan struct{}
}

func newClientWithPeer(t *testing.T, configure ...func(*ConnBuilder)) (*Conn, *rawPeer) {
	a, b := net.Pipe()

	peer := &rawPeer{
		t:      t,
		tr:     stream.New(b),
		frames: make(chan wire.Envelope, 16),
		stop:   make(chan struct{}),
	}
	t.Cleanup(func() {
		close(peer.stop)
		peer.tr.Close("test done")
	})
	go peer.readLoop()

	conn := startConn(t, stream.New(a), configure...)
	return conn, peer
}

func (p *rawPeer) readLoop() {
	for {
		data, err := p.tr.Read(context.Background())
		if err != nil {
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			continue
		}
		select {
		case p.frames <- env:
		case <-p.stop:
			return
		}
	}
}

func (p *rawPeer) next() wire.Envelope {
	p.t.Helper()
	select {
	case env := <-p.frames:
		return env
	case <-time.After(waitFor):
		p.t.Fatal("timed out waiting for a frame")
		return wire.Envelope{}
	}
}

func (p *rawPeer) send(env wire.Envelope) {
	p.t.Helper()
	data, err := wire.Encode(env)
	require.NoError(p.t, err)
	require.NoError(p.t, p.tr.Write(context.Background(), data))
}

func (p *rawPeer) sendRaw(frame string) {
	p.t.Helper()
	require.NoError(p.t, p.tr.Write(context.Background(), []byte(frame)))
}

type recordingMonitor struct {
	transitions chan [2]State
}

func (m *recordingMonitor) OnStateChange(conn *Conn, from, to State) {
	m.transitions <- [2]State{from, to}
}

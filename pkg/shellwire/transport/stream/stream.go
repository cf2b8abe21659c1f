// Package stream carries frames as newline-delimited JSON over a byte stream such as a
// unix domain socket. The daemon speaks this framing.
package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/tsarna/shellwire/pkg/shellwire/transport"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 10 * 1024 * 1024
)

// Transport frames a net.Conn by lines. Frames must not contain raw newlines, which
// holds for compact JSON.
type Transport struct {
	conn    net.Conn
	scanner *bufio.Scanner

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn.
func New(conn net.Conn) *Transport {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)
	return &Transport{
		conn:    conn,
		scanner: scanner,
		closed:  make(chan struct{}),
	}
}

// Read blocks until a full line is available. Cancelling ctx unblocks the read by
// expiring the connection deadline.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}

	if t.isClosed() {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (t *Transport) Write(ctx context.Context, frame []byte) error {
	if t.isClosed() {
		return transport.ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(time.Time{})
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	if _, err := t.conn.Write(buf); err != nil {
		if t.isClosed() {
			return transport.ErrClosed
		}
		return err
	}
	return nil
}

func (t *Transport) Close(reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Dialer opens stream transports to a fixed network address.
type Dialer struct {
	Network string
	Address string
	Timeout time.Duration
}

// UnixDialer returns a dialer for a unix domain socket path.
func UnixDialer(path string) *Dialer {
	return &Dialer{Network: "unix", Address: path, Timeout: 5 * time.Second}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Transport, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, d.Network, d.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", d.Network, d.Address, err)
	}
	return New(conn), nil
}

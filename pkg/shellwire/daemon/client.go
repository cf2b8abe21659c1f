// Package daemon is the shell's client for the local daemon, plus a small server side
// used by the stub daemon.
//
// The daemon connection is independent of the backend socket: losing one never affects
// the other. The client dials lazily and redials after the connection drops.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/butlerd"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
)

// Client issues typed calls to the daemon. Create it with NewClient().
type Client struct {
	dialer         transport.Dialer
	logger         *zap.Logger
	callTimeout    time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	o11y           o11y.Config

	mu   sync.Mutex
	conn *rpc.Conn
}

var _ rpc.Requester = (*Client)(nil)

// Call issues a typed call to the daemon.
func Call[I, O any](ctx context.Context, c *Client, call kinds.Call[I, O], in I) (O, error) {
	return rpc.Call(ctx, c, call, in)
}

// Request implements rpc.Requester. Idempotent kinds are retried with exponential
// backoff when the daemon is unavailable or the call timed out; errors reported by the
// daemon are never retried.
func (c *Client) Request(ctx context.Context, kind kinds.Kind, input any) (json.RawMessage, error) {
	mk := kind.Kind()
	if !mk.Idempotent() || c.maxRetries <= 0 {
		return c.attempt(ctx, kind, input)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff

	return backoff.Retry(ctx, func() (json.RawMessage, error) {
		out, err := c.attempt(ctx, kind, input)
		if err == nil {
			return out, nil
		}
		if ctx.Err() == nil && (errors.Is(err, rpc.ErrDaemonUnavailable) || errors.Is(err, rpc.ErrTimeout)) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Retrying daemon call",
				zap.String("kind", mk.Name()), zap.Duration("in", next), zap.Error(err))
		}),
	)
}

func (c *Client) attempt(ctx context.Context, kind kinds.Kind, input any) (json.RawMessage, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	out, err := conn.Request(ctx, kind, input)
	if err != nil && errors.Is(err, rpc.ErrConnectionClosed) {
		c.drop(conn)
		return nil, fmt.Errorf("%w: %w", rpc.ErrDaemonUnavailable, err)
	}
	return out, err
}

func (c *Client) connection(ctx context.Context) (*rpc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.State() == rpc.StateOpen {
		return c.conn, nil
	}

	tr, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rpc.ErrDaemonUnavailable, err)
	}

	conn, err := rpc.NewConn().
		WithName("daemon").
		WithTransport(tr).
		WithLogger(c.logger).
		WithCatalog(butlerd.Catalog).
		WithTimeout(c.callTimeout).
		WithObservability(c.o11y).
		Build()
	if err != nil {
		tr.Close("build failed")
		return nil, err
	}
	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", rpc.ErrDaemonUnavailable, err)
	}

	c.logger.Debug("Connected to daemon")
	c.conn = conn
	return conn, nil
}

func (c *Client) drop(conn *rpc.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	conn.Close()
}

// Connected reports whether the client currently holds an open daemon connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.State() == rpc.StateOpen
}

// Close closes the daemon connection, if any, and waits for it to shut down. A later
// call dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-conn.Done()
	return err
}

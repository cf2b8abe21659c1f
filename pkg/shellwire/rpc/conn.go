// Package rpc implements the duplex connection core shared by the backend socket, the
// daemon client and the stub servers.
//
// A Conn multiplexes three patterns over one transport: correlated queries, packet
// pushes, and inbound queries answered by registered handlers. All inbound frames are
// dispatched from a single read goroutine, so packet handlers for one connection never
// run concurrently with each other.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
	"github.com/tsarna/shellwire/pkg/shellwire/transport"
	"github.com/tsarna/shellwire/pkg/shellwire/wire"
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 30 * time.Second

// State is the lifecycle state of a connection. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Monitor receives connection lifecycle events.
type Monitor interface {
	OnStateChange(conn *Conn, from, to State)
}

// PacketHandler receives the raw payload of a pushed packet.
type PacketHandler func(ctx context.Context, payload json.RawMessage) error

// QueryHandler answers an inbound query. The returned value is marshaled as the result.
type QueryHandler func(ctx context.Context, input json.RawMessage) (any, error)

// Unsubscribe removes a subscription. Calling it more than once is harmless.
type Unsubscribe func()

type result struct {
	payload json.RawMessage
	err     error
}

type subscription struct {
	handler PacketHandler
	active  atomic.Bool
}

// Conn is one duplex connection. Create it with NewConn().
type Conn struct {
	name             string
	transport        transport.Transport
	logger           *zap.Logger
	catalog          *kinds.Catalog
	timeout          time.Duration
	monitor          Monitor
	tracing          o11y.TracingProvider
	metrics          *o11y.Instruments
	writeChannelSize int

	state atomic.Int32
	ctx   context.Context
	stop  context.CancelFunc

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan result

	subsMu sync.RWMutex
	subs   map[string][]*subscription

	handlersMu sync.RWMutex
	handlers   map[string]QueryHandler

	writeChannel chan []byte
	loops        sync.WaitGroup
	inflight     sync.WaitGroup
	closeOnce    sync.Once
	done         chan struct{}

	errMu sync.Mutex
	err   error
}

// Name returns the name used in log entries for this connection.
func (c *Conn) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Done is closed once the connection is closed and its goroutines have exited.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the reason the connection closed, or nil while it is still usable.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Pending returns the number of requests awaiting a response.
func (c *Conn) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Start opens the connection and starts the read and write loops. ctx only bounds the
// start itself; use Close to end the connection.
func (c *Conn) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("connection %s is %s, cannot start", c.name, c.State())
	}

	c.notifyState(StateConnecting, StateOpen)

	c.loops.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.logger.Debug("Connection open", zap.String("conn", c.name))
	return nil
}

// Close tears the connection down: pending requests fail with ErrConnectionClosed,
// subscriptions are dropped and the transport is closed. It is safe to call from a
// packet handler and more than once.
func (c *Conn) Close() error {
	return c.teardown(ErrConnectionClosed, "closed locally")
}

func (c *Conn) teardown(cause error, reason string) error {
	var closeErr error

	c.closeOnce.Do(func() {
		from := c.State()
		c.state.Store(int32(StateClosing))
		c.notifyState(from, StateClosing)

		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.stop()

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = nil
		c.pendingMu.Unlock()

		for _, ch := range pending {
			ch <- result{err: cause}
		}
		if len(pending) > 0 {
			c.logger.Debug("Failed pending requests on close",
				zap.String("conn", c.name), zap.Int("count", len(pending)))
		}
		o11y.SetGauge(context.Background(), c.metrics.PendingRequests, 0, o11y.Label{Key: "conn", Value: c.name})

		c.subsMu.Lock()
		c.subs = nil
		c.subsMu.Unlock()

		closeErr = c.transport.Close(reason)

		c.state.Store(int32(StateClosed))
		c.notifyState(StateClosing, StateClosed)

		go func() {
			c.loops.Wait()
			c.inflight.Wait()
			close(c.done)
		}()

		c.logger.Info("Connection closed", zap.String("conn", c.name), zap.String("reason", reason))
	})

	return closeErr
}

func (c *Conn) notifyState(from, to State) {
	if c.monitor != nil {
		c.monitor.OnStateChange(c, from, to)
	}
}

func (c *Conn) usable() error {
	switch c.State() {
	case StateOpen:
		return nil
	case StateConnecting:
		return ErrNotConnected
	default:
		return ErrConnectionClosed
	}
}

// Request sends a query of the given kind and waits for its response.
func (c *Conn) Request(ctx context.Context, kind kinds.Kind, input any) (json.RawMessage, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	mk := kind.Kind()
	kindLabel := o11y.Label{Key: "kind", Value: mk.Name()}
	id := c.nextID.Add(1)

	env, err := wire.NewQuery(mk.Name(), id, input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", mk, err)
	}
	data, err := wire.Encode(env)
	if err != nil {
		return nil, err
	}

	ch := make(chan result, 1)
	c.pendingMu.Lock()
	if c.pending == nil {
		c.pendingMu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()
	c.updatePendingGauge()

	ctx, span := o11y.StartSpan(ctx, c.tracing, "shellwire.query", kindLabel)
	start := time.Now()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	payload, err := c.await(ctx, mk, id, data, ch, timer.C)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	case errors.Is(err, ErrConnectionClosed):
		status = "closed"
	default:
		status = "error"
	}
	o11y.Inc(ctx, c.metrics.QueriesTotal, kindLabel, o11y.Label{Key: "status", Value: status})
	o11y.Observe(ctx, c.metrics.QueryDuration, time.Since(start).Seconds(), kindLabel)
	o11y.EndSpan(span, err)

	return payload, err
}

func (c *Conn) await(ctx context.Context, mk kinds.MessageKind, id int64, data []byte, ch chan result, expired <-chan time.Time) (json.RawMessage, error) {
	select {
	case c.writeChannel <- data:
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, c.contextError(ctx, mk)
	case <-expired:
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, mk, c.timeout)
	case <-c.ctx.Done():
		return nil, c.closedError()
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return nil, c.contextError(ctx, mk)
	case <-expired:
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, mk, c.timeout)
	case <-c.ctx.Done():
		// Teardown delivers the cause on ch; prefer it when it is already there.
		select {
		case res := <-ch:
			return res.payload, res.err
		default:
			return nil, c.closedError()
		}
	}
}

func (c *Conn) contextError(ctx context.Context, mk kinds.MessageKind) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, mk, ctx.Err())
	}
	return ctx.Err()
}

func (c *Conn) closedError() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrConnectionClosed
}

func (c *Conn) dropPending(id int64) (chan result, bool) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if ok {
		c.updatePendingGauge()
	}
	return ch, ok
}

func (c *Conn) updatePendingGauge() {
	o11y.SetGauge(context.Background(), c.metrics.PendingRequests, float64(c.Pending()), o11y.Label{Key: "conn", Value: c.name})
}

// Publish sends a packet. It does not wait for the peer.
func (c *Conn) Publish(ctx context.Context, kind kinds.Kind, payload any) error {
	if err := c.usable(); err != nil {
		return err
	}

	mk := kind.Kind()
	env, err := wire.NewPacket(mk.Name(), payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", mk, err)
	}
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}

	return c.send(ctx, data)
}

func (c *Conn) send(ctx context.Context, data []byte) error {
	select {
	case c.writeChannel <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.closedError()
	}
}

// Subscribe registers handler for packets of kind. Handlers for the same kind run in
// registration order. Subscribing on a closed connection returns a no-op.
func (c *Conn) Subscribe(kind kinds.Kind, handler PacketHandler) Unsubscribe {
	name := kind.Kind().Name()
	sub := &subscription{handler: handler}
	sub.active.Store(true)

	c.subsMu.Lock()
	if c.subs == nil {
		c.subsMu.Unlock()
		return func() {}
	}
	c.subs[name] = append(c.subs[name], sub)
	c.subsMu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}

		c.subsMu.Lock()
		defer c.subsMu.Unlock()

		list := c.subs[name]
		for i, s := range list {
			if s == sub {
				// Copy so a dispatch in progress keeps its own snapshot.
				next := make([]*subscription, 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				if len(next) == 0 {
					delete(c.subs, name)
				} else {
					c.subs[name] = next
				}
				return
			}
		}
	}
}

// Subscribers returns the number of live subscriptions for kind.
func (c *Conn) Subscribers(kind kinds.Kind) int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs[kind.Kind().Name()])
}

// Handle registers the handler answering inbound queries of kind, replacing any
// previous one.
func (c *Conn) Handle(kind kinds.Kind, handler QueryHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[kind.Kind().Name()] = handler
}

func (c *Conn) readLoop() {
	defer c.loops.Done()

	for {
		data, err := c.transport.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("Connection read failed", zap.String("conn", c.name), zap.Error(err))
				c.teardown(fmt.Errorf("%w: %v", ErrConnectionClosed, err), "read failed")
			}
			return
		}

		c.dispatch(data)
	}
}

func (c *Conn) writeLoop() {
	defer c.loops.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.writeChannel:
			if err := c.transport.Write(c.ctx, data); err != nil {
				if c.ctx.Err() == nil {
					c.logger.Warn("Connection write failed", zap.String("conn", c.name), zap.Error(err))
					c.teardown(fmt.Errorf("%w: %v", ErrConnectionClosed, err), "write failed")
				}
				return
			}
		}
	}
}

func (c *Conn) dispatch(data []byte) {
	if c.ctx.Err() != nil {
		return
	}

	env, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("Dropping malformed frame", zap.String("conn", c.name), zap.Error(err))
		o11y.Inc(c.ctx, c.metrics.DispatchErrors, o11y.Label{Key: "kind", Value: ""}, o11y.Label{Key: "operation", Value: "decode"})
		return
	}

	switch env.Type {
	case wire.TypeResult, wire.TypeError:
		c.handleResponse(env)
	case wire.TypePacket:
		c.handlePacket(env)
	case wire.TypeQuery:
		c.handleQuery(env)
	}
}

func (c *Conn) handleResponse(env wire.Envelope) {
	ch, ok := c.dropPending(env.ID)
	if !ok {
		c.logger.Debug("Dropping response with no pending request",
			zap.String("conn", c.name), zap.Int64("id", env.ID), zap.String("kind", env.Name))
		return
	}

	if env.Type == wire.TypeError {
		ch <- result{err: &RemoteError{Kind: env.Name, Detail: env.Error}}
		return
	}
	ch <- result{payload: env.Payload}
}

func (c *Conn) resolve(name string, directions ...kinds.Direction) bool {
	if c.catalog == nil {
		return true
	}
	k, ok := c.catalog.Lookup(name)
	if !ok {
		return false
	}
	for _, d := range directions {
		if k.Direction() == d {
			return true
		}
	}
	return false
}

func (c *Conn) handlePacket(env wire.Envelope) {
	kindLabel := o11y.Label{Key: "kind", Value: env.Name}

	if !c.resolve(env.Name, kinds.DirectionPacket) {
		c.logger.Warn("Dropping packet of unknown kind", zap.String("conn", c.name), zap.String("kind", env.Name))
		o11y.Inc(c.ctx, c.metrics.DispatchErrors, kindLabel, o11y.Label{Key: "operation", Value: "unknown"})
		return
	}

	o11y.Inc(c.ctx, c.metrics.PacketsTotal, kindLabel)

	c.subsMu.RLock()
	list := c.subs[env.Name]
	c.subsMu.RUnlock()

	for _, sub := range list {
		if c.ctx.Err() != nil {
			return
		}
		if !sub.active.Load() {
			continue
		}
		c.invoke(env.Name, sub.handler, env.Payload)
	}
}

func (c *Conn) invoke(kind string, handler PacketHandler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Packet handler panicked",
				zap.String("conn", c.name), zap.String("kind", kind), zap.Any("panic", r))
			o11y.Inc(c.ctx, c.metrics.DispatchErrors, o11y.Label{Key: "kind", Value: kind}, o11y.Label{Key: "operation", Value: "panic"})
		}
	}()

	if err := handler(c.ctx, payload); err != nil {
		c.logger.Warn("Packet handler failed",
			zap.String("conn", c.name), zap.String("kind", kind), zap.Error(err))
		o11y.Inc(c.ctx, c.metrics.DispatchErrors, o11y.Label{Key: "kind", Value: kind}, o11y.Label{Key: "operation", Value: "handler"})
	}
}

func (c *Conn) handleQuery(env wire.Envelope) {
	c.handlersMu.RLock()
	handler, ok := c.handlers[env.Name]
	c.handlersMu.RUnlock()

	if !ok || !c.resolve(env.Name, kinds.DirectionQuery, kinds.DirectionDaemonCall) {
		c.logger.Warn("No handler for inbound query", zap.String("conn", c.name), zap.String("kind", env.Name))
		o11y.Inc(c.ctx, c.metrics.DispatchErrors, o11y.Label{Key: "kind", Value: env.Name}, o11y.Label{Key: "operation", Value: "unknown"})
		c.reply(wire.NewError(env.Name, env.ID, fmt.Sprintf("%v: %q", ErrUnknownKind, env.Name)))
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.reply(c.answer(env, handler))
	}()
}

func (c *Conn) answer(env wire.Envelope, handler QueryHandler) (reply wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Query handler panicked",
				zap.String("conn", c.name), zap.String("kind", env.Name), zap.Any("panic", r))
			reply = wire.NewError(env.Name, env.ID, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	out, err := handler(c.ctx, env.Payload)
	if err != nil {
		return wire.NewError(env.Name, env.ID, err.Error())
	}

	reply, err = wire.NewResult(env.Name, env.ID, out)
	if err != nil {
		return wire.NewError(env.Name, env.ID, err.Error())
	}
	return reply
}

func (c *Conn) reply(env wire.Envelope) {
	data, err := wire.Encode(env)
	if err != nil {
		c.logger.Error("Failed to encode reply", zap.String("conn", c.name), zap.Error(err))
		return
	}
	if err := c.send(c.ctx, data); err != nil {
		c.logger.Debug("Dropping reply", zap.String("conn", c.name), zap.String("kind", env.Name), zap.Error(err))
	}
}

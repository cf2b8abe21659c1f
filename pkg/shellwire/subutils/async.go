package subutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

var (
	ErrQueueFull     = errors.New("handler queue is full")
	ErrHandlerClosed = errors.New("handler is closed")
)

const DefaultQueueSize = 100

type asyncPacket struct {
	ctx     context.Context
	payload json.RawMessage
}

// AsyncQueueingHandler hands packets to the wrapped handler from its own goroutine, so
// that a slow handler does not hold up the connection's read loop. Packets are handled
// in arrival order.
//
//	async := subutils.NewAsyncQueueingHandler(render, 100).Start()
//	defer async.Close()
//	unsubscribe := conn.Subscribe(kind, async.Handle)
type AsyncQueueingHandler struct {
	wrapped   rpc.PacketHandler
	onError   func(err error)
	queue     chan asyncPacket
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncQueueingHandler creates a handler with room for queueSize pending packets.
// Call Start before use and Close when done.
func NewAsyncQueueingHandler(wrapped rpc.PacketHandler, queueSize int) *AsyncQueueingHandler {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &AsyncQueueingHandler{
		wrapped: wrapped,
		queue:   make(chan asyncPacket, queueSize),
		done:    make(chan struct{}),
	}
}

// WithErrorHandler sets a function receiving the wrapped handler's errors, which have
// no caller to return to. Must be called before Start.
func (a *AsyncQueueingHandler) WithErrorHandler(onError func(err error)) *AsyncQueueingHandler {
	a.onError = onError
	return a
}

func (a *AsyncQueueingHandler) Start() *AsyncQueueingHandler {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

// Handle queues the packet and returns at once. It fails with ErrQueueFull rather than
// block.
func (a *AsyncQueueingHandler) Handle(ctx context.Context, payload json.RawMessage) error {
	if a.IsClosed() {
		return ErrHandlerClosed
	}

	select {
	case a.queue <- asyncPacket{ctx: ctx, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *AsyncQueueingHandler) processQueue() {
	defer a.wg.Done()

	for {
		select {
		case p := <-a.queue:
			a.process(p)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncQueueingHandler) drainQueue() {
	for {
		select {
		case p := <-a.queue:
			a.process(p)
		default:
			return
		}
	}
}

func (a *AsyncQueueingHandler) process(p asyncPacket) {
	if err := a.wrapped(p.ctx, p.payload); err != nil && a.onError != nil {
		a.onError(err)
	}
}

// Close stops accepting packets, handles what is already queued and waits for the
// worker to exit.
func (a *AsyncQueueingHandler) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

func (a *AsyncQueueingHandler) QueueSize() int {
	return len(a.queue)
}

func (a *AsyncQueueingHandler) QueueCapacity() int {
	return cap(a.queue)
}

func (a *AsyncQueueingHandler) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Package hooks binds packet subscriptions to the lifetime of a UI component.
//
// A Listener subscribes when it is created and unsubscribes when its lifetime context
// ends. Updating it with new dependencies swaps the subscription; unchanged
// dependencies keep the original handler.
package hooks

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// Handler receives typed packets.
type Handler[P any] func(ctx context.Context, payload P) error

// Listener is one lifetime-bound subscription.
type Listener[P any] struct {
	src  rpc.PacketSource
	kind kinds.Packet[P]

	mu          sync.Mutex
	deps        []any
	unsubscribe rpc.Unsubscribe
	attached    bool
	stop        func() bool
}

// Listen subscribes handler to kind on src until lifetime ends or Detach is called.
func Listen[P any](lifetime context.Context, src rpc.PacketSource, kind kinds.Packet[P], handler Handler[P], deps ...any) *Listener[P] {
	l := &Listener[P]{
		src:  src,
		kind: kind,
		deps: deps,
	}
	// An already finished lifetime runs Detach right away on another goroutine, which
	// then waits for the lock until stop is set.
	l.mu.Lock()
	l.unsubscribe = rpc.Listen(src, kind, handler)
	l.attached = true
	l.stop = context.AfterFunc(lifetime, l.Detach)
	l.mu.Unlock()
	return l
}

// Update replaces the subscription if deps differ from the current ones, removing the
// old handler before the new one is attached. It reports whether it resubscribed.
// Dependencies are compared structurally.
func (l *Listener[P]) Update(handler Handler[P], deps ...any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.attached || depsEqual(l.deps, deps) {
		return false
	}

	l.unsubscribe()
	l.unsubscribe = rpc.Listen(l.src, l.kind, handler)
	l.deps = deps
	return true
}

// Detach removes the subscription. It is safe to call more than once.
func (l *Listener[P]) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.attached {
		return
	}
	l.attached = false
	l.unsubscribe()
	if l.stop != nil {
		l.stop()
	}
}

func (l *Listener[P]) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

func depsEqual(a, b []any) bool {
	return cmp.Equal(a, b,
		cmpopts.EquateEmpty(),
		cmp.Exporter(func(reflect.Type) bool { return true }),
	)
}

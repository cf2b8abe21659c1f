// Package modal shows dialogs on behalf of callers that wait for their result.
//
// The Orchestrator owns the stack of open requests. A caller blocks in Show until the
// request is resolved with a value, or dismissed, in which case it gets the zero value
// of the result shape. The Router mounts a widget for each request and turns widget
// callbacks into resolutions.
package modal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

// State of a modal request. Requests move strictly forward.
type State int

const (
	StateRequested State = iota
	StateDisplayed
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StateDisplayed:
		return "displayed"
	case StateResolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request is one open dialog. Its fields are fixed at creation; only the state moves.
type Request struct {
	ID     string
	Kind   kinds.MessageKind
	Params any

	mu      sync.Mutex
	state   State
	convert func(value any) (any, error)
	done    chan any
}

func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Request) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Listener is told when requests are pushed on or popped off the stack. Calls are made
// without the orchestrator lock held, so a listener may call back into the orchestrator.
type Listener interface {
	OnPush(o *Orchestrator, req *Request)
	OnPop(o *Orchestrator, req *Request)
}

// Orchestrator tracks open modal requests. Create it with NewOrchestrator().
type Orchestrator struct {
	logger     *zap.Logger
	listener   Listener
	background *Background

	mu    sync.Mutex
	stack []*Request
	byID  map[string]*Request
}

// Show opens a modal of kind m with params and blocks until it is resolved. A dismissed
// modal yields the zero R. If ctx ends first, the modal is dismissed and ctx.Err() is
// returned.
func Show[P, R any](ctx context.Context, o *Orchestrator, m kinds.Modal[P, R], params P) (R, error) {
	var zero R

	req := &Request{
		ID:      uuid.NewString(),
		Kind:    m.Kind(),
		Params:  params,
		convert: convertTo[R],
		done:    make(chan any, 1),
	}
	o.push(req)

	select {
	case out := <-req.done:
		value, _ := out.(R)
		return value, nil
	case <-ctx.Done():
		if err := o.Dismiss(req.ID); err != nil {
			// Resolved concurrently: the value is already on its way.
			value, _ := (<-req.done).(R)
			return value, nil
		}
		<-req.done
		return zero, ctx.Err()
	}
}

func convertTo[R any](value any) (any, error) {
	var out R

	switch v := value.(type) {
	case nil:
		return out, nil
	case R:
		return v, nil
	case *R:
		if v != nil {
			out = *v
		}
		return out, nil
	case json.RawMessage:
		err := rpc.Decode(v, &out)
		return out, err
	case []byte:
		err := rpc.Decode(v, &out)
		return out, err
	}

	// Anything else must at least have the same JSON shape.
	data, err := json.Marshal(value)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

func (o *Orchestrator) push(req *Request) {
	o.mu.Lock()
	req.setState(StateDisplayed)
	o.stack = append(o.stack, req)
	o.byID[req.ID] = req
	depth := len(o.stack)
	o.mu.Unlock()

	o.logger.Debug("Modal requested",
		zap.String("id", req.ID), zap.String("kind", req.Kind.Name()), zap.Int("depth", depth))

	if o.listener != nil {
		o.listener.OnPush(o, req)
	}
}

// Resolve completes the request with value, which may be an R, a *R, raw JSON, or
// anything with the JSON shape of R. Resolving a request that is already resolved, or
// unknown, returns ErrDuplicateResolution and changes nothing.
func (o *Orchestrator) Resolve(id string, value any) error {
	o.mu.Lock()
	req, ok := o.byID[id]
	if !ok {
		o.mu.Unlock()
		o.logger.Warn("Ignoring resolution of a modal that is not open", zap.String("id", id))
		return fmt.Errorf("%w: %s", rpc.ErrDuplicateResolution, id)
	}

	out, err := req.convert(value)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: result of %s: %v", rpc.ErrMalformedEnvelope, req.Kind, err)
	}

	req.setState(StateResolved)
	delete(o.byID, id)
	for i, r := range o.stack {
		if r == req {
			o.stack = append(o.stack[:i:i], o.stack[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	o.logger.Debug("Modal resolved", zap.String("id", id), zap.String("kind", req.Kind.Name()))

	if o.listener != nil {
		o.listener.OnPop(o, req)
	}

	req.done <- out
	return nil
}

// Dismiss closes the request without a result; the caller gets the zero value.
func (o *Orchestrator) Dismiss(id string) error {
	return o.Resolve(id, nil)
}

// Stack returns the open requests, oldest first. The last element is on top.
func (o *Orchestrator) Stack() []*Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Request(nil), o.stack...)
}

// Top returns the most recent open request, or nil.
func (o *Orchestrator) Top() *Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.stack) == 0 {
		return nil
	}
	return o.stack[len(o.stack)-1]
}

func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.stack)
}

// Background returns the runner for work that outlives a dismissed modal.
func (o *Orchestrator) Background() *Background {
	return o.background
}

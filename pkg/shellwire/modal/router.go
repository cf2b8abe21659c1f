package modal

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
)

// Props are handed to a mounted widget.
type Props[P, R any] struct {
	ID     string
	Params P

	// OnResult resolves the modal. Only the first call has an effect; later calls
	// return ErrDuplicateResolution.
	OnResult func(result R) error

	// Present makes the widget's surface visible with the given view. A widget that
	// never presents is never shown.
	Present func(view any)
}

// Widget renders one kind of modal. It runs on its own goroutine and should return
// once ctx is done; ctx ends when the modal is resolved or unmounted. Returning
// earlier without calling OnResult dismisses the modal.
type Widget[P, R any] func(ctx context.Context, props Props[P, R])

// Surface is a visible modal.
type Surface struct {
	ID   string
	Kind kinds.MessageKind
	View any
}

type mount func(ctx context.Context, o *Orchestrator, req *Request, present func(view any))

type mounted struct {
	o       *Orchestrator
	req     *Request
	cancel  context.CancelFunc
	visible bool
	view    any
}

// Router mounts a registered widget for each request pushed on the orchestrator's
// stack and unmounts it when the request is popped. It has no rendering of its own.
type Router struct {
	logger *zap.Logger

	mu      sync.Mutex
	widgets map[string]mount
	mounted map[string]*mounted
	order   []string
	wg      sync.WaitGroup
}

var _ Listener = (*Router)(nil)

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		logger:  logger,
		widgets: make(map[string]mount),
		mounted: make(map[string]*mounted),
	}
}

// Register sets the widget rendering modals of kind m.
func Register[P, R any](r *Router, m kinds.Modal[P, R], widget Widget[P, R]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.widgets[m.Name()] = func(ctx context.Context, o *Orchestrator, req *Request, present func(view any)) {
		params, _ := req.Params.(P)
		widget(ctx, Props[P, R]{
			ID:     req.ID,
			Params: params,
			OnResult: func(result R) error {
				return o.Resolve(req.ID, result)
			},
			Present: present,
		})
	}
}

func (r *Router) OnPush(o *Orchestrator, req *Request) {
	r.mu.Lock()
	widget, ok := r.widgets[req.Kind.Name()]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("No widget registered for modal, dismissing", zap.String("kind", req.Kind.Name()))
		o.Dismiss(req.ID)
		return
	}
	if req.State() == StateResolved {
		r.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &mounted{o: o, req: req, cancel: cancel}
	r.mounted[req.ID] = m
	r.order = append(r.order, req.ID)
	r.wg.Add(1)
	r.mu.Unlock()

	present := func(view any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		m.visible = true
		m.view = view
	}

	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Modal widget panicked", zap.String("kind", req.Kind.Name()), zap.Any("panic", p))
			}
			// A widget that returns without answering leaves its caller with the zero result.
			if req.State() != StateResolved {
				o.Dismiss(req.ID)
			}
		}()
		widget(ctx, o, req, present)
	}()
}

func (r *Router) OnPop(o *Orchestrator, req *Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unmountLocked(req.ID)
}

func (r *Router) unmountLocked(id string) *mounted {
	m, ok := r.mounted[id]
	if !ok {
		return nil
	}
	m.cancel()
	delete(r.mounted, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return m
}

// Visible returns the presented surfaces, oldest first.
func (r *Router) Visible() []Surface {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Surface
	for _, id := range r.order {
		m := r.mounted[id]
		if m.visible {
			out = append(out, Surface{ID: id, Kind: m.req.Kind, View: m.view})
		}
	}
	return out
}

// Mounted returns the number of mounted widgets, visible or not.
func (r *Router) Mounted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mounted)
}

// Unmount tears a widget down without a result; the caller of Show gets the zero value.
func (r *Router) Unmount(id string) {
	r.mu.Lock()
	m := r.unmountLocked(id)
	r.mu.Unlock()

	if m != nil {
		m.o.Dismiss(id)
	}
}

// Reset unmounts every widget, dismissing their requests.
func (r *Router) Reset() {
	r.mu.Lock()
	ids := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, id := range ids {
		r.Unmount(id)
	}
}

// Wait blocks until every widget goroutine has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

package hooks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/rpc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type windowState struct {
	Maximized bool `json:"maximized"`
}

var maximizedChanged = kinds.NewPacket[windowState]("maximizedChanged")

// fakeSource is an in-memory packet source.
type fakeSource struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
}

type fakeSub struct {
	handler rpc.PacketHandler
}

func newFakeSource() *fakeSource {
	return &fakeSource{subs: make(map[string][]*fakeSub)}
}

func (f *fakeSource) Subscribe(kind kinds.Kind, handler rpc.PacketHandler) rpc.Unsubscribe {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := kind.Kind().Name()
	sub := &fakeSub{handler: handler}
	f.subs[name] = append(f.subs[name], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			list := f.subs[name]
			for i, s := range list {
				if s == sub {
					f.subs[name] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

func (f *fakeSource) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[name])
}

func (f *fakeSource) emit(t *testing.T, name string, payload any) {
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	f.mu.Lock()
	list := append([]*fakeSub(nil), f.subs[name]...)
	f.mu.Unlock()

	for _, s := range list {
		_ = s.handler(context.Background(), data)
	}
}

func TestListenFollowsLifetime(t *testing.T) {
	src := newFakeSource()
	lifetime, unmount := context.WithCancel(context.Background())

	var got []bool
	l := Listen(lifetime, src, maximizedChanged, func(ctx context.Context, p windowState) error {
		got = append(got, p.Maximized)
		return nil
	})
	assert.True(t, l.Attached())
	assert.Equal(t, 1, src.count("maximizedChanged"))

	src.emit(t, "maximizedChanged", windowState{Maximized: true})
	assert.Equal(t, []bool{true}, got)

	unmount()
	require.Eventually(t, func() bool { return !l.Attached() }, time.Second, time.Millisecond)
	assert.Equal(t, 0, src.count("maximizedChanged"))

	src.emit(t, "maximizedChanged", windowState{Maximized: false})
	assert.Equal(t, []bool{true}, got)
}

func TestUpdate(t *testing.T) {
	src := newFakeSource()

	var calls []string
	handler := func(tag string) Handler[windowState] {
		return func(ctx context.Context, p windowState) error {
			calls = append(calls, tag)
			return nil
		}
	}

	type filter struct {
		profileID int64
		tags      []string
	}

	l := Listen(context.Background(), src, maximizedChanged, handler("original"), filter{profileID: 1, tags: []string{"a"}})
	defer l.Detach()

	t.Run("equal deps keep the original handler", func(t *testing.T) {
		assert.False(t, l.Update(handler("ignored"), filter{profileID: 1, tags: []string{"a"}}))
		src.emit(t, "maximizedChanged", windowState{})
		assert.Equal(t, []string{"original"}, calls)
	})

	t.Run("changed deps replace, never stack", func(t *testing.T) {
		calls = nil
		assert.True(t, l.Update(handler("replaced"), filter{profileID: 2}))
		assert.Equal(t, 1, src.count("maximizedChanged"))

		src.emit(t, "maximizedChanged", windowState{})
		assert.Equal(t, []string{"replaced"}, calls)
	})

	t.Run("dependency count matters", func(t *testing.T) {
		assert.True(t, l.Update(handler("more"), filter{profileID: 2}, "extra"))
		assert.Equal(t, 1, src.count("maximizedChanged"))
	})

	t.Run("detached listeners ignore updates", func(t *testing.T) {
		l.Detach()
		l.Detach()
		assert.False(t, l.Update(handler("late"), "anything"))
		assert.Equal(t, 0, src.count("maximizedChanged"))
	})
}

func TestNoDepsNeverResubscribes(t *testing.T) {
	src := newFakeSource()
	l := Listen(context.Background(), src, maximizedChanged, func(ctx context.Context, p windowState) error { return nil })
	defer l.Detach()

	assert.False(t, l.Update(func(ctx context.Context, p windowState) error { return nil }))
	assert.Equal(t, 1, src.count("maximizedChanged"))
}

func TestListenWithFinishedLifetime(t *testing.T) {
	src := newFakeSource()
	lifetime, cancel := context.WithCancel(context.Background())
	cancel()

	listeners := make([]*Listener[windowState], 200)
	for i := range listeners {
		listeners[i] = Listen(lifetime, src, maximizedChanged, func(ctx context.Context, s windowState) error {
			return nil
		})
	}

	require.Eventually(t, func() bool { return src.count("maximizedChanged") == 0 }, time.Second, time.Millisecond)
	for _, l := range listeners {
		require.Eventually(t, func() bool { return !l.Attached() }, time.Second, time.Millisecond)
		assert.False(t, l.Update(func(ctx context.Context, s windowState) error { return nil }, "new"))
		l.Detach()
	}
	assert.Equal(t, 0, src.count("maximizedChanged"))
}

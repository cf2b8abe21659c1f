package websockets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/shellwire/pkg/shellwire/transport"
)

func echoServer(t *testing.T, seenAuth chan<- string) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seenAuth != nil {
			seenAuth <- r.Header.Get("Authorization")
		}
		tr, err := Accept(w, r)
		if err != nil {
			return
		}
		defer tr.Close("done")

		for {
			frame, err := tr.Read(r.Context())
			if err != nil {
				return
			}
			if err := tr.Write(r.Context(), frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialAndEcho(t *testing.T) {
	seenAuth := make(chan string, 1)
	url := echoServer(t, seenAuth)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := NewDialer(url).
		WithHeader("Authorization", "ignored").
		WithAuthorization("Bearer token123").
		Dial(ctx)
	require.NoError(t, err)
	defer tr.Close("test done")

	assert.Equal(t, "Bearer token123", <-seenAuth)

	require.NoError(t, tr.Write(ctx, []byte(`{"k":"p","n":"ping"}`)))
	frame, err := tr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"p","n":"ping"}`, string(frame))

	assert.NoError(t, tr.Close("bye"))
	assert.NoError(t, tr.Close("again"))
	assert.True(t, errors.Is(tr.Write(ctx, []byte("x")), transport.ErrClosed))
}

func TestDialFailures(t *testing.T) {
	ctx := context.Background()

	_, err := NewDialer("ws://127.0.0.1:1/nothing").WithDialTimeout(200 * time.Millisecond).Dial(ctx)
	assert.Error(t, err)

	_, err = NewDialer(echoServer(t, nil)).
		WithAuthorizationProvider(func(ctx context.Context) (string, error) {
			return "", errors.New("no credentials")
		}).
		Dial(ctx)
	assert.ErrorContains(t, err, "no credentials")
}

package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
	"github.com/tsarna/shellwire/pkg/shellwire/socket"
)

func TestAuthFuncs(t *testing.T) {
	req := httptest.NewRequest("GET", "/shell", nil)
	assert.NoError(t, RequireAuthorization("")(req))
	assert.ErrorIs(t, RequireAuthorization("Bearer s3cret")(req), ErrUnauthorized)

	req.Header.Set("Authorization", "Bearer s3cret")
	assert.NoError(t, RequireAuthorization("Bearer s3cret")(req))

	refuse := errors.New("not from here")
	chained := ChainAuth(RequireAuthorization("Bearer s3cret"), func(*http.Request) error {
		return refuse
	})
	assert.ErrorIs(t, chained(req), refuse)
	assert.NoError(t, ChainAuth()(req))
}

func TestHandshakeAuthorization(t *testing.T) {
	_, url := startBackend(t, func(b *ServerBuilder) {
		b.WithAuth(RequireAuthorization("Bearer s3cret"))
	})

	anonymous, err := socket.NewSocket().WithURL(url).WithDialTimeout(waitFor).Build()
	require.NoError(t, err)
	assert.Error(t, anonymous.Connect(context.Background()))

	shell, err := socket.NewSocket().
		WithURL(url).
		WithDialTimeout(waitFor).
		WithAuthorization("Bearer s3cret").
		Build()
	require.NoError(t, err)
	require.NoError(t, shell.Connect(context.Background()))
	t.Cleanup(func() {
		shell.Disconnect()
		<-shell.Done()
	})

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	state, err := socket.Query(ctx, shell, catalog.IsMaximized, kinds.Empty{})
	require.NoError(t, err)
	assert.False(t, state.Maximized)
}

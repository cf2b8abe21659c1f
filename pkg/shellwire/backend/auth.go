package backend

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// ErrUnauthorized is returned by an AuthFunc refusing a handshake.
var ErrUnauthorized = errors.New("unauthorized")

// An AuthFunc decides whether a shell may connect. It sees the handshake request before
// the WebSocket upgrade; a non-nil error answers it with 401.
type AuthFunc func(r *http.Request) error

// AllowAll accepts every handshake. This is the default.
func AllowAll(r *http.Request) error {
	return nil
}

// RequireAuthorization accepts handshakes whose Authorization header is exactly value.
// An empty value accepts everything.
func RequireAuthorization(value string) AuthFunc {
	if value == "" {
		return AllowAll
	}
	return func(r *http.Request) error {
		got := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(got), []byte(value)) != 1 {
			return ErrUnauthorized
		}
		return nil
	}
}

// ChainAuth applies each function in order and stops at the first refusal.
func ChainAuth(funcs ...AuthFunc) AuthFunc {
	return func(r *http.Request) error {
		for _, fn := range funcs {
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	}
}

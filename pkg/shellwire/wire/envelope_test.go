package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeFrames(t *testing.T) {
	t.Run("query frame uses short field names", func(t *testing.T) {
		env, err := NewQuery("switchLanguage", 7, map[string]string{"lang": "fr"})
		require.NoError(t, err)

		data, err := Encode(env)
		require.NoError(t, err)
		assert.JSONEq(t, `{"k":"q","n":"switchLanguage","i":7,"d":{"lang":"fr"}}`, string(data))
	})

	t.Run("raw payloads are passed through", func(t *testing.T) {
		env, err := NewPacket("maximizedChanged", json.RawMessage(`{"maximized":true}`))
		require.NoError(t, err)
		assert.Equal(t, `{"maximized":true}`, string(env.Payload))
	})

	t.Run("nil payload is omitted", func(t *testing.T) {
		env, err := NewResult("close", 3, nil)
		require.NoError(t, err)
		data, err := Encode(env)
		require.NoError(t, err)
		assert.JSONEq(t, `{"k":"r","n":"close","i":3}`, string(data))
	})

	t.Run("unmarshalable payload fails", func(t *testing.T) {
		_, err := NewQuery("bad", 1, make(chan int))
		assert.Error(t, err)
	})

	t.Run("decode error response", func(t *testing.T) {
		env, err := Decode([]byte(`{"k":"x","n":"uninstallGame","i":9,"e":"cave not found"}`))
		require.NoError(t, err)
		assert.Equal(t, TypeError, env.Type)
		assert.Equal(t, int64(9), env.ID)
		assert.Equal(t, "cave not found", env.Error)
	})
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{{{`,
		"unknown type":        `{"k":"z","n":"a","i":1}`,
		"query without id":    `{"k":"q","n":"isMaximized"}`,
		"query without name":  `{"k":"q","i":2}`,
		"result without id":   `{"k":"r","n":"isMaximized"}`,
		"packet without name": `{"k":"p","d":{}}`,
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

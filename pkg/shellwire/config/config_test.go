package config

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/tsarna/shellwire/pkg/shellwire/catalog"
)

func build(t *testing.T, src string) (*Config, hcl.Diagnostics) {
	t.Helper()
	return NewConfig().WithSources([]byte(src)).Build()
}

func TestDefaults(t *testing.T) {
	config, diags := NewConfig().Build()
	require.False(t, diags.HasErrors(), diags.Error())

	assert.Equal(t, Default(), config)
	assert.Equal(t, 30*time.Second, config.Backend.QueryTimeout)
	assert.Equal(t, 10*time.Second, config.Daemon.CallTimeout)
	assert.Equal(t, 3, config.Daemon.MaxRetries)
	assert.Equal(t, zapcore.InfoLevel, config.Log.Level)
}

func TestBlocks(t *testing.T) {
	t.Setenv("SHELLWIRE_TEST_TOKEN", "s3cret")

	config, diags := build(t, `
log {
  level = "debug"
  file  = "/tmp/shellwire.log"
}

backend {
  url           = "ws://localhost:1234/shell"
  authorization = "Bearer ${env.SHELLWIRE_TEST_TOKEN}"
  dial_timeout  = 2
  query_timeout = "PT45S"
}

daemon {
  address      = "/run/butlerd.sock"
  call_timeout = "1500ms"
  max_retries  = 5
}
`)
	require.False(t, diags.HasErrors(), diags.Error())

	assert.Equal(t, zapcore.DebugLevel, config.Log.Level)
	assert.Equal(t, "/tmp/shellwire.log", config.Log.File)
	assert.Equal(t, DefaultLogMaxSizeMB, config.Log.MaxSizeMB)

	assert.Equal(t, "ws://localhost:1234/shell", config.Backend.URL)
	assert.Equal(t, DefaultListenAddress, config.Backend.Listen)
	assert.Equal(t, "Bearer s3cret", config.Backend.Authorization)
	assert.Equal(t, 2*time.Second, config.Backend.DialTimeout)
	assert.Equal(t, 45*time.Second, config.Backend.QueryTimeout)

	assert.Equal(t, "unix", config.Daemon.Network)
	assert.Equal(t, "/run/butlerd.sock", config.Daemon.Address)
	assert.Equal(t, 1500*time.Millisecond, config.Daemon.CallTimeout)
	assert.Equal(t, 5, config.Daemon.MaxRetries)
}

func TestPushes(t *testing.T) {
	config, diags := build(t, `
push "maximizedChanged" {
  schedule = "@every 30s"
  payload  = { maximized = true }
}

push "downloadsChanged" {
  schedule = "0 */5 * * * *"
}
`)
	require.False(t, diags.HasErrors(), diags.Error())
	require.Len(t, config.Pushes, 2)

	first := config.Pushes[0]
	assert.True(t, first.Kind.Same(catalog.MaximizedChanged))
	assert.Equal(t, "@every 30s", first.Schedule)
	assert.Equal(t, map[string]any{"maximized": true}, first.Payload)

	second := config.Pushes[1]
	assert.True(t, second.Kind.Same(catalog.DownloadsChanged))
	assert.Nil(t, second.Payload)
}

func TestInvalidConfigs(t *testing.T) {
	cases := map[string]string{
		"unknown push":        `push "nope" { schedule = "@hourly" }`,
		"push of a query":     `push "isMaximized" { schedule = "@hourly" }`,
		"push with no sched":  `push "downloadsChanged" {}`,
		"bad log level":       `log { level = "loud" }`,
		"negative duration":   `backend { query_timeout = -1 }`,
		"zero duration":       `daemon { call_timeout = "0s" }`,
		"bad iso duration":    `backend { dial_timeout = "PXYZ" }`,
		"bad go duration":     `backend { dial_timeout = "soon" }`,
		"wrong duration type": `backend { dial_timeout = true }`,
		"no retries":          `daemon { max_retries = 0 }`,
		"unknown block":       `frontend {}`,
		"duplicate block":     "log {}\nlog {}",
		"syntax error":        `backend {`,
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			config, diags := build(t, src)
			assert.True(t, diags.HasErrors())
			assert.Nil(t, config)
		})
	}
}

func TestSources(t *testing.T) {
	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "log.hcl"), []byte(`log { level = "warn" }`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "daemon.hcl"), []byte(`daemon { address = "/tmp/d.sock" }`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`not hcl`), 0o644))

		config, diags := NewConfig().WithSources(dir).Build()
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Equal(t, zapcore.WarnLevel, config.Log.Level)
		assert.Equal(t, "/tmp/d.sock", config.Daemon.Address)
	})

	t.Run("fs", func(t *testing.T) {
		fsys := fstest.MapFS{
			"conf/backend.hcl": {Data: []byte(`backend { listen = ":0" }`)},
		}
		config, diags := NewConfig().WithSources(fsys).Build()
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Equal(t, ":0", config.Backend.Listen)
	})

	t.Run("missing file", func(t *testing.T) {
		_, diags := NewConfig().WithSources(filepath.Join(t.TempDir(), "missing.hcl")).Build()
		assert.True(t, diags.HasErrors())
	})

	t.Run("unsupported source", func(t *testing.T) {
		_, diags := NewConfig().WithSources(42).Build()
		assert.True(t, diags.HasErrors())
	})
}

func TestDotEnv(t *testing.T) {
	const name = "SHELLWIRE_TEST_DOTENV_ADDRESS"
	t.Cleanup(func() { os.Unsetenv(name) })

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(name+"=/run/from-dotenv.sock\n"), 0o644))

	config, diags := NewConfig().
		WithDotEnv(envFile).
		WithSources([]byte(`daemon { address = env.` + name + ` }`)).
		Build()
	require.False(t, diags.HasErrors(), diags.Error())
	assert.Equal(t, "/run/from-dotenv.sock", config.Daemon.Address)

	_, diags = NewConfig().WithDotEnv(filepath.Join(t.TempDir(), "missing.env")).Build()
	assert.True(t, diags.HasErrors())
}

func TestFunctions(t *testing.T) {
	config, diags := build(t, `
backend {
  authorization = "Basic ${base64encode("user:pass")}"
  url           = lower("WS://EXAMPLE.COM/SHELL")
}
`)
	require.False(t, diags.HasErrors(), diags.Error())
	assert.Equal(t, "Basic dXNlcjpwYXNz", config.Backend.Authorization)
	assert.Equal(t, "ws://example.com/shell", config.Backend.URL)
}

func TestSanitizeEnvVarName(t *testing.T) {
	cases := map[string]string{
		"":             "_",
		"PATH":         "PATH",
		"1ST":          "_ST",
		"WITH.DOT":     "WITH_DOT",
		"dash-ok_9":    "dash-ok_9",
		"ProgramW6432": "ProgramW6432",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeEnvVarName(in), in)
	}
}

func TestPatchedPushPayload(t *testing.T) {
	config, diags := build(t, `
push "maximizedChanged" {
  schedule = "@hourly"
  payload  = patch({ maximized = false, screen = "main" }, { maximized = true })
}
`)
	require.False(t, diags.HasErrors(), diags.Error())
	require.Len(t, config.Pushes, 1)
	assert.Equal(t, map[string]any{"maximized": true, "screen": "main"}, config.Pushes[0].Payload)
}

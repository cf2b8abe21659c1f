package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/tsarna/shellwire/pkg/shellwire/config"
	"github.com/tsarna/shellwire/pkg/shellwire/daemon"
	"github.com/tsarna/shellwire/pkg/shellwire/transform"
)

func TestResolvePackets(t *testing.T) {
	all, err := resolvePackets(nil)
	require.NoError(t, err)
	var names []string
	for _, k := range all {
		names = append(names, k.Name())
	}
	assert.Equal(t, []string{"maximizedChanged", "profileChanged", "downloadsChanged"}, names)

	some, err := resolvePackets([]string{"profileChanged"})
	require.NoError(t, err)
	require.Len(t, some, 1)

	_, err = resolvePackets([]string{"isMaximized"})
	assert.Error(t, err, "queries cannot be listened to")
}

func TestParseInput(t *testing.T) {
	input, err := parseInput([]string{"switchLanguage"}, 1)
	require.NoError(t, err)
	assert.Nil(t, input)

	input, err = parseInput([]string{"switchLanguage", `{"lang":"fr"}`}, 1)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`{"lang":"fr"}`), input)

	_, err = parseInput([]string{"switchLanguage", `{lang`}, 1)
	assert.Error(t, err)
}

func TestPacketPrinter(t *testing.T) {
	ctx := context.Background()

	t.Run("raw", func(t *testing.T) {
		var buf bytes.Buffer
		h := packetPrinter("downloadsChanged", &linePrinter{w: &buf}, nil, nil)
		require.NoError(t, h(ctx, nil))
		assert.Equal(t, "downloadsChanged\tnull\n", buf.String())
	})

	t.Run("jq then diff", func(t *testing.T) {
		var buf bytes.Buffer
		filter, err := transform.Compile(`{maximized}`)
		require.NoError(t, err)
		h := packetPrinter("maximizedChanged", &linePrinter{w: &buf}, filter, transform.NewDiffer())

		require.NoError(t, h(ctx, json.RawMessage(`{"maximized":false,"screen":1}`)))
		require.NoError(t, h(ctx, json.RawMessage(`{"maximized":false,"screen":2}`)))
		assert.Equal(t, "maximizedChanged\t{\"maximized\":false}\n", buf.String(), "the second packet is unchanged after filtering")
	})

	t.Run("diff", func(t *testing.T) {
		var buf bytes.Buffer
		h := packetPrinter("profileChanged", &linePrinter{w: &buf}, nil, transform.NewDiffer())
		require.NoError(t, h(ctx, json.RawMessage(`{"profile":null}`)))
		require.NoError(t, h(ctx, json.RawMessage(`{"profile":null}`)))
		assert.Equal(t, "profileChanged\t{\"profile\":null}\n", buf.String())
	})
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, nil))
	require.NoError(t, printJSON(&buf, json.RawMessage(`{"maximized":true}`)))
	assert.Equal(t, "null\n{\"maximized\":true}\n", buf.String())
}

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() {
		logLevel, logFile, debug, verbose = "", "", false, false
	})

	cfg := config.Default()
	cfg.Log.File = filepath.Join(t.TempDir(), "shellwire.log")

	logger, err := setupLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger.Info("written to the file")
	_ = logger.Sync()
	data, err := os.ReadFile(cfg.Log.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to the file")

	verbose = true
	logger, err = setupLogger(config.Default())
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logLevel = "shouting"
	_, err = setupLogger(config.Default())
	assert.Error(t, err)
}

func TestLoadLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"game": {"id": 42, "title": "Cyclops Run"}, "caves": [{"id": "cave-a"}, {"id": "cave-b"}]}
]`), 0o644))

	stub := daemon.NewStub()
	require.NoError(t, loadLibrary(stub, path))
	assert.Len(t, stub.Caves(42), 2)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	assert.Error(t, loadLibrary(stub, path))
}

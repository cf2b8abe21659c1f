package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/shellwire/pkg/shellwire/kinds"
)

func TestShellCatalog(t *testing.T) {
	counts := map[kinds.Direction]int{}
	for _, k := range Shell.Kinds() {
		counts[k.Direction()]++
	}
	assert.Equal(t, 7, counts[kinds.DirectionQuery])
	assert.Equal(t, 3, counts[kinds.DirectionPacket])
	assert.Equal(t, 2, counts[kinds.DirectionModal])

	k, err := Shell.Resolve("maximizedChanged", kinds.DirectionPacket)
	require.NoError(t, err)
	assert.True(t, k.Same(MaximizedChanged))

	_, err = Shell.Resolve("maximizedChanged", kinds.DirectionQuery)
	assert.ErrorIs(t, err, kinds.ErrUnknownKind)
}

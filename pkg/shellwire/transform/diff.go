package transform

import (
	"fmt"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/tsarna/go-structdiff"
)

// Differ reduces successive payloads of the same kind to what changed between them.
// The first payload of each kind passes whole and a payload equal to the previous one
// is dropped.
type Differ struct {
	mu   sync.Mutex
	last map[string]any
}

func NewDiffer() *Differ {
	return &Differ{last: make(map[string]any)}
}

// Apply records value as the latest payload of kind and returns its delta from the
// previous one. ok is false when nothing changed.
func (d *Differ) Apply(kind string, value any) (delta any, ok bool, err error) {
	d.mu.Lock()
	prev, seen := d.last[kind]
	d.last[kind] = value
	d.mu.Unlock()

	if !seen {
		return value, true, nil
	}
	if cmp.Equal(prev, value) {
		return nil, false, nil
	}

	delta, err = structdiff.Diff(prev, value)
	if err != nil {
		return nil, false, fmt.Errorf("failed to diff %s payloads: %w", kind, err)
	}
	return delta, true, nil
}

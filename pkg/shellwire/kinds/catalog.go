package kinds

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a name does not resolve in a catalog.
var ErrUnknownKind = errors.New("unknown message kind")

// Catalog is a static, ordered table of kinds. It is built once at startup and only
// read afterwards, so lookups need no locking.
type Catalog struct {
	name    string
	version int
	order   []MessageKind
	byName  map[string]MessageKind
}

// NewCatalog builds a catalog from the given kinds. Declaring the same name twice is a
// programming error and panics.
func NewCatalog(name string, version int, kinds ...Kind) *Catalog {
	c := &Catalog{
		name:    name,
		version: version,
		order:   make([]MessageKind, 0, len(kinds)),
		byName:  make(map[string]MessageKind, len(kinds)),
	}

	for _, k := range kinds {
		mk := k.Kind()
		if existing, ok := c.byName[mk.name]; ok {
			panic(fmt.Sprintf("kinds: %s declared twice in catalog %s (already %s)", mk.name, name, existing))
		}
		c.byName[mk.name] = mk
		c.order = append(c.order, mk)
	}

	return c
}

func (c *Catalog) Name() string { return c.name }
func (c *Catalog) Version() int { return c.version }

// Lookup resolves a wire name to its kind.
func (c *Catalog) Lookup(name string) (MessageKind, bool) {
	if c == nil {
		return MessageKind{}, false
	}
	k, ok := c.byName[name]
	return k, ok
}

// Resolve is like Lookup but also checks the direction and returns a descriptive error.
func (c *Catalog) Resolve(name string, direction Direction) (MessageKind, error) {
	k, ok := c.Lookup(name)
	if !ok {
		return MessageKind{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	if k.direction != direction {
		return MessageKind{}, fmt.Errorf("%w: %q is a %s, not a %s", ErrUnknownKind, name, k.direction, direction)
	}
	return k, nil
}

// Kinds returns the catalog entries in declaration order.
func (c *Catalog) Kinds() []MessageKind {
	out := make([]MessageKind, len(c.order))
	copy(out, c.order)
	return out
}

// Merge returns a catalog holding the kinds of every given catalog. It panics on
// duplicate names, like NewCatalog.
func Merge(name string, version int, catalogs ...*Catalog) *Catalog {
	var all []Kind
	for _, c := range catalogs {
		for _, k := range c.order {
			all = append(all, k)
		}
	}
	return NewCatalog(name, version, all...)
}

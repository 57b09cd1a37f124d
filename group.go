package zarr

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group metadata under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	store Store
	path  Path
	opts  []Option
}

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

func (groupMeta) MetaType() MetaType { return MTGroup }

// CreateGroup marks path as a group. An existing group marker is rewritten.
// opts apply to every array created or opened through the group.
func CreateGroup(store Store, path string, opts ...Option) (*Group, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if err := putMeta(store, p, groupMeta{ZarrFormat: ZarrFormat}); err != nil {
		return nil, errors.Wrapf(err, "writing group %q", p.String())
	}
	log.WithField("path", p.String()).Info("created group")
	return &Group{store: store, path: p, opts: opts}, nil
}

// OpenGroup loads the group at path. A missing marker or one written for
// another format version fails with an error matching ErrFormat.
func OpenGroup(store Store, path string, opts ...Option) (*Group, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	key := p.key(string(MTGroup))
	data, err := store.Get(key)
	if errors.Is(err, ErrNotfound) {
		return nil, fmt.Errorf("%w: no group metadata at %q", ErrFormat, key)
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %q", key)
	}
	if err := checkFormat(key, data); err != nil {
		return nil, err
	}
	return &Group{store: store, path: p, opts: opts}, nil
}

func (g *Group) Path() string { return g.path.String() }

// CreateArray creates an array at name relative to the group
func (g *Group) CreateArray(name string, params ArrayParams, mode PersistenceMode, opts ...Option) (*Array, error) {
	child, err := g.child(name)
	if err != nil {
		return nil, err
	}
	return Create(g.store, child, params, mode, slices.Concat(g.opts, opts)...)
}

// OpenArray opens the array at name relative to the group
func (g *Group) OpenArray(name string, mode PersistenceMode, opts ...Option) (*Array, error) {
	child, err := g.child(name)
	if err != nil {
		return nil, err
	}
	return Open(g.store, child, mode, slices.Concat(g.opts, opts)...)
}

// CreateGroup creates a subgroup at name relative to the group
func (g *Group) CreateGroup(name string) (*Group, error) {
	child, err := g.child(name)
	if err != nil {
		return nil, err
	}
	return CreateGroup(g.store, child, g.opts...)
}

func (g *Group) child(name string) (string, error) {
	p, err := NewPath(name)
	if err != nil {
		return "", err
	}
	if len(p) == 0 {
		return "", fmt.Errorf("%w: empty name below group %q", ErrConfig, g.path.String())
	}
	return g.path.Join(p...).String(), nil
}

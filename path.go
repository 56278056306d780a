package datastore

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/reference"
)

const pathSeparator = "."

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	if segment == "" {
		return prefix
	}
	return prefix + pathSeparator + segment
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, errdefs.InvalidArgument("path must not be empty")
	}
	segments := strings.Split(path, pathSeparator)
	for _, segment := range segments {
		if segment == "" {
			return nil, errdefs.InvalidArgument("path %q contains an empty segment", path)
		}
	}
	return segments, nil
}

// GetOrCreateContainer returns the nested container at key, creating it when
// absent. On an instance whose template holds a container at key, the new
// child is itself an instance of the template child, so writes through it
// never reach the template. A non-container value at key is a type mismatch.
func (c *Container) GetOrCreateContainer(key string) (*Container, error) {
	return c.getOrCreateContainer(key, true)
}

func (c *Container) getOrCreateContainer(key string, notify bool) (*Container, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if value, ok := c.entries[key]; ok {
		child, isContainer := value.(*Container)
		if !isContainer {
			return nil, errdefs.TypeMismatch(joinPath(c.Path(), key), "*datastore.Container", fmt.Sprintf("%T", value))
		}
		return child, nil
	}

	var template *Container
	if c.template != nil {
		if inherited, ok := c.template.lookup(key); ok {
			child, isContainer := inherited.(*Container)
			if !isContainer {
				return nil, errdefs.TypeMismatch(joinPath(c.Path(), key), "*datastore.Container", fmt.Sprintf("%T", inherited))
			}
			template = child
		}
	}
	child := c.newChild(key, template)
	if notify {
		c.store(key, child)
	} else {
		c.put(key, child)
	}
	return child, nil
}

// PathSet stores value at a dotted path, creating intermediate containers.
func (c *Container) PathSet(path string, value any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	target := c
	for _, segment := range segments[:len(segments)-1] {
		target, err = target.GetOrCreateContainer(segment)
		if err != nil {
			return err
		}
	}
	return target.Set(segments[len(segments)-1], value)
}

// PathSet is the typed form of (*Container).PathSet.
func PathSet[T any](c *Container, path string, value T) error {
	return c.PathSet(path, value)
}

// PathGet reads the value at a dotted path. A missing segment yields
// ErrKeyNotFound; intermediate containers are never created.
func PathGet[T any](c *Container, path string) (T, error) {
	return PathGetContext[T](context.Background(), c, path)
}

// PathGetContext is PathGet with a context passed to reference resolution.
func PathGetContext[T any](ctx context.Context, c *Container, path string) (T, error) {
	var zero T
	parent, key, err := c.walk(path)
	if err != nil {
		return zero, err
	}
	return GetContext[T](ctx, parent, key)
}

// TryPathGet is the soft form of PathGet.
func TryPathGet[T any](c *Container, path string) (T, bool) {
	var zero T
	parent, key, err := c.walk(path)
	if err != nil {
		return zero, false
	}
	return TryGet[T](parent, key)
}

// PathHas reports whether a value exists at path.
func (c *Container) PathHas(path string) bool {
	parent, key, err := c.walk(path)
	if err != nil {
		return false
	}
	return parent.Has(key)
}

// PathReference returns the reference stored at path without resolving it.
func (c *Container) PathReference(path string) (*reference.Reference, bool) {
	parent, key, err := c.walk(path)
	if err != nil {
		return nil, false
	}
	return parent.Reference(key)
}

// PathDelete removes the value at path from the container that owns it. It
// never creates containers and never touches a template.
func (c *Container) PathDelete(path string) bool {
	segments, err := splitPath(path)
	if err != nil {
		return false
	}
	target := c
	for _, segment := range segments[:len(segments)-1] {
		child, ok := target.entries[segment].(*Container)
		if !ok {
			return false
		}
		target = child
	}
	return target.Delete(segments[len(segments)-1])
}

// walk resolves every segment but the last to a container, following
// template fallthrough for reads. Inherited containers are wrapped as views
// so a read path never exposes template storage.
func (c *Container) walk(path string) (*Container, string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	target := c
	for i, segment := range segments[:len(segments)-1] {
		value, ok := target.read(segment)
		if !ok {
			return nil, "", errdefs.KeyNotFound(strings.Join(segments[:i+1], pathSeparator))
		}
		child, isContainer := value.(*Container)
		if !isContainer {
			return nil, "", errdefs.KeyNotFound(strings.Join(segments[:i+2], pathSeparator))
		}
		target = child
	}
	return target, segments[len(segments)-1], nil
}

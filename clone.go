package datastore

import "github.com/goliatone/go-datastore/pkg/reference"

// Clone returns a structurally independent deep copy of c. Nested containers
// are cloned recursively and every reference is duplicated as a new
// descriptor-only reference, so a clone never shares a resolved handle with
// its source. The clone keeps the same template and configuration.
func (c *Container) Clone() *Container {
	clone := newContainer(c.cfg)
	clone.template = c.template
	for key, value := range c.entries {
		copied := cloneStored(value)
		if child, ok := copied.(*Container); ok {
			child.parent = clone
			child.key = key
		}
		clone.entries[key] = copied
	}
	return clone
}

// Flatten materialises c together with its template chain into a standalone
// container. Instance values win over template values; nested containers are
// flattened recursively. References are copied descriptor-only.
func (c *Container) Flatten() *Container {
	flat := newContainer(c.cfg)
	for _, key := range c.Keys() {
		value, _ := c.lookup(key)
		var copied any
		if child, ok := value.(*Container); ok {
			grand := child.Flatten()
			grand.parent = flat
			grand.key = key
			copied = grand
		} else {
			copied = cloneStored(value)
		}
		flat.entries[key] = copied
	}
	return flat
}

func cloneStored(value any) any {
	switch typed := value.(type) {
	case *Container:
		return typed.Clone()
	case *reference.Reference:
		return typed.CloneDescriptor()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneStored(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneStored(item)
		}
		return out
	default:
		return typed
	}
}

// detachValue copies the sequence and mapping structure of value so callers
// cannot write into container storage. Nested containers are cloned while
// references are shared, which keeps their resolved handles.
func detachValue(value any) any {
	switch typed := value.(type) {
	case *Container:
		clone := typed.Clone()
		clone.parent = nil
		return clone
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = detachValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = detachValue(item)
		}
		return out
	default:
		return typed
	}
}

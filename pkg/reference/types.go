package reference

import (
	"reflect"
	"sort"
	"sync"
)

// TypeRegistry maps declared type names to runtime types so a descriptor's
// type name can be loaded back into a reflect.Type.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewTypeRegistry creates an empty registry, optionally seeded with samples.
func NewTypeRegistry(samples ...any) *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]reflect.Type)}
	for _, sample := range samples {
		r.Register(sample)
	}
	return r
}

// Register records the runtime type of sample and returns its name.
func (r *TypeRegistry) Register(sample any) string {
	if sample == nil {
		return ""
	}
	return r.RegisterType(reflect.TypeOf(sample))
}

// RegisterType records t and returns its name.
func (r *TypeRegistry) RegisterType(t reflect.Type) string {
	if t == nil {
		return ""
	}
	name := TypeNameFor(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.types == nil {
		r.types = make(map[string]reflect.Type)
	}
	r.types[name] = t
	return name
}

// Lookup returns the type registered under name.
func (r *TypeRegistry) Lookup(name string) (reflect.Type, bool) {
	if r == nil || name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered names sorted alphabetically.
func (r *TypeRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeNameOf returns the declared type name for value, or "" for nil.
func TypeNameOf(value any) string {
	if value == nil {
		return ""
	}
	return TypeNameFor(reflect.TypeOf(value))
}

// TypeNameFor returns a package-qualified name for t. Named types use their
// import path ("github.com/acme/game.Sprite"); pointers are prefixed with "*";
// unnamed composite types fall back to reflect's String form.
func TypeNameFor(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		return "*" + TypeNameFor(t.Elem())
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Package registry implements the reference registry: a keyed table that maps
// string keys to externally owned resource handles.
//
// The authoritative state is a flat entry list, which is what persistence
// collaborators read and write. A map index shadows the list for O(1)
// lookups; it is a cache that is rebuilt from the list on first access after
// construction or Load and is never consulted as the source of truth.
package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/errdefs"
)

// Entry is a single key/handle association in the authoritative list.
type Entry struct {
	Key    string
	Handle any
}

// Persister is notified whenever the entry list changes so the host can
// schedule a save.
type Persister interface {
	MarkDirty(r *Registry)
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(r *Registry)

// MarkDirty implements Persister.
func (f PersisterFunc) MarkDirty(r *Registry) {
	if f != nil {
		f(r)
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithPersister attaches the persistence collaborator.
func WithPersister(p Persister) Option {
	return func(r *Registry) {
		r.persister = p
	}
}

// WithActivityHooks attaches hooks notified on register/remove.
func WithActivityHooks(hooks activity.Hooks) Option {
	return func(r *Registry) {
		r.hooks = hooks.Clone()
	}
}

// Registry maps keys to resource handles.
type Registry struct {
	mu        sync.Mutex
	entries   []Entry
	index     map[string]int
	persister Persister
	hooks     activity.Hooks
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RegisterObject stores handle under key, overwriting any existing entry.
func (r *Registry) RegisterObject(key string, handle any) error {
	if key == "" {
		return errdefs.InvalidArgument("registry key must not be empty")
	}
	if isNil(handle) {
		return errdefs.InvalidArgument("registry handle for %q must not be nil", key)
	}

	r.mu.Lock()
	r.ensureIndex()
	if i, ok := r.index[key]; ok {
		r.entries[i].Handle = handle
	} else {
		r.entries = append(r.entries, Entry{Key: key, Handle: handle})
		r.index[key] = len(r.entries) - 1
	}
	r.mu.Unlock()

	r.markDirty()
	r.notify(activity.BuildRegistryRegisteredEvent(activity.RegistryInput{
		Key:      key,
		TypeName: reflect.TypeOf(handle).String(),
	}))
	return nil
}

// GetObject returns the handle stored under key, or nil when absent.
func (r *Registry) GetObject(key string) (any, error) {
	if key == "" {
		return nil, errdefs.InvalidArgument("registry key must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureIndex()
	i, ok := r.index[key]
	if !ok {
		return nil, nil
	}
	return r.entries[i].Handle, nil
}

// GetObjectAs returns the handle stored under key as T. A missing entry or a
// handle that is not assignable to T yields the zero value and false.
func GetObjectAs[T any](r *Registry, key string) (T, bool, error) {
	var zero T
	handle, err := r.GetObject(key)
	if err != nil || handle == nil {
		return zero, false, err
	}
	typed, ok := handle.(T)
	if !ok {
		return zero, false, nil
	}
	return typed, true, nil
}

// RemoveObject deletes the entry for key and reports whether one existed.
func (r *Registry) RemoveObject(key string) bool {
	if key == "" {
		return false
	}
	r.mu.Lock()
	r.ensureIndex()
	i, ok := r.index[key]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	r.index = nil
	r.mu.Unlock()

	r.markDirty()
	r.notify(activity.BuildRegistryRemovedEvent(activity.RegistryInput{Key: key}))
	return true
}

// ContainsKey reports whether key has an entry.
func (r *Registry) ContainsKey(key string) bool {
	if key == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureIndex()
	_, ok := r.index[key]
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Keys returns the registered keys sorted alphabetically.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		keys = append(keys, entry.Key)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of the authoritative entry list in insertion order.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Load replaces the entry list with persisted entries. Entries with an empty
// key or nil handle are rejected; later duplicates win. The index is dropped
// and rebuilt lazily on the next lookup.
func (r *Registry) Load(entries []Entry) error {
	loaded := make([]Entry, 0, len(entries))
	positions := make(map[string]int, len(entries))
	for i, entry := range entries {
		if entry.Key == "" {
			return errdefs.InvalidArgument("registry entry %d has an empty key", i)
		}
		if isNil(entry.Handle) {
			return errdefs.InvalidArgument("registry entry %q has a nil handle", entry.Key)
		}
		if pos, ok := positions[entry.Key]; ok {
			loaded[pos].Handle = entry.Handle
			continue
		}
		positions[entry.Key] = len(loaded)
		loaded = append(loaded, entry)
	}

	r.mu.Lock()
	r.entries = loaded
	r.index = nil
	r.mu.Unlock()
	return nil
}

// Reset drops every entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.index = nil
	r.mu.Unlock()
	r.markDirty()
}

func (r *Registry) ensureIndex() {
	if r.index != nil {
		return
	}
	r.index = make(map[string]int, len(r.entries))
	for i, entry := range r.entries {
		r.index[entry.Key] = i
	}
}

func (r *Registry) markDirty() {
	if r.persister != nil {
		r.persister.MarkDirty(r)
	}
}

func (r *Registry) notify(event activity.Event) {
	if !r.hooks.Enabled() {
		return
	}
	_ = r.hooks.Notify(context.Background(), event)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// String implements fmt.Stringer for diagnostics.
func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d entries)", r.Len())
}

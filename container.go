// Package datastore implements a hierarchical, typed key-value container.
//
// A Container maps string keys to values of five kinds: primitive scalars,
// ordered sequences, string-keyed mappings, owned nested containers and
// references to externally owned resources. Nested containers are addressed
// with dotted paths ("a.b.c"). A container created with NewInstance layers
// runtime overrides on top of a template: reads fall through to the template
// for keys the instance does not hold, writes never touch the template.
//
// Handles implementing reference.Resource are never stored by value. Set
// wraps them in a reference.Reference chosen by the container's strategy
// policy, and Get resolves the reference back into a handle on demand.
//
// Containers are not safe for concurrent use.
package datastore

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/logging"
	"github.com/goliatone/go-datastore/pkg/reference"
)

const logComponent = "datastore"

// Container is a hierarchical key-value store.
type Container struct {
	entries  map[string]any
	template *Container
	parent   *Container
	key      string
	cfg      *containerConfig
	// view marks an instance child handed out for an inherited container
	// that the parent does not hold yet. It attaches on first write.
	view bool
}

// New creates an empty standalone container.
func New(opts ...Option) *Container {
	return newContainer(applyOptions(opts))
}

// NewInstance creates an empty container layered on template. Keys missing
// from the instance are read from the template at lookup time, so later
// template edits stay visible for keys the instance has not overridden. Use
// Flatten for a frozen copy. Options default to the template configuration.
func NewInstance(template *Container, opts ...Option) (*Container, error) {
	if template == nil {
		return nil, errdefs.InvalidArgument("instance template must not be nil")
	}
	cfg := template.cfg
	if len(opts) > 0 {
		merged := *template.cfg
		for _, opt := range opts {
			if opt != nil {
				opt(&merged)
			}
		}
		cfg = &merged
	}
	c := newContainer(cfg)
	c.template = template
	return c, nil
}

func newContainer(cfg *containerConfig) *Container {
	if cfg == nil {
		cfg = &containerConfig{}
	}
	return &Container{entries: make(map[string]any), cfg: cfg}
}

func (c *Container) newChild(key string, template *Container) *Container {
	child := newContainer(c.cfg)
	child.parent = c
	child.key = key
	child.template = template
	return child
}

// Template returns the template this container is layered on, or nil.
func (c *Container) Template() *Container {
	return c.template
}

// IsInstance reports whether the container is layered on a template.
func (c *Container) IsInstance() bool {
	return c.template != nil
}

// Parent returns the container owning c, or nil for a root container.
func (c *Container) Parent() *Container {
	return c.parent
}

// Name returns the configured name followed by the path from the root.
func (c *Container) Name() string {
	if c.parent == nil {
		return c.cfg.name
	}
	return joinPath(c.parent.Name(), c.key)
}

// Path returns the dotted path of c from its root container.
func (c *Container) Path() string {
	if c.parent == nil {
		return ""
	}
	return joinPath(c.parent.Path(), c.key)
}

// Resolver returns the resolver used for references stored in c.
func (c *Container) Resolver() *reference.Resolver {
	return c.cfg.resolverOrDefault()
}

// Len returns the number of effective keys.
func (c *Container) Len() int {
	return len(c.Keys())
}

// Has reports whether key is present in the container or its template chain.
func (c *Container) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// HasOwn reports whether key is held by this container itself.
func (c *Container) HasOwn(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Keys returns the effective keys, including template keys, sorted.
func (c *Container) Keys() []string {
	seen := make(map[string]struct{})
	for layer := c; layer != nil; layer = layer.template {
		for key := range layer.entries {
			seen[key] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// OwnKeys returns the keys held by this container, sorted.
func (c *Container) OwnKeys() []string {
	return sortedKeys(c.entries)
}

// Kind returns the kind of the effective value at key.
func (c *Container) Kind(key string) (Kind, bool) {
	value, ok := c.lookup(key)
	if !ok {
		return KindInvalid, false
	}
	return kindOf(value), true
}

// Set stores value under key. Handles implementing reference.Resource are
// wrapped in a reference; nested containers are adopted (or cloned when
// already owned elsewhere). Setting on an instance never touches the template.
func Set[T any](c *Container, key string, value T) error {
	return c.Set(key, value)
}

// Set is the untyped form of the package-level Set.
func (c *Container) Set(key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	stored, err := c.normalize(key, value)
	if err != nil {
		return err
	}
	c.store(key, stored)
	return nil
}

func (c *Container) store(key string, stored any) {
	c.attach()
	if child, ok := stored.(*Container); ok {
		child.parent = c
		child.key = key
	}
	if previous, ok := c.entries[key].(*Container); ok && previous != stored {
		previous.parent = nil
	}
	c.entries[key] = stored
	c.notify(activity.BuildValueSetEvent(activity.ValueInput{
		ActorID:   c.cfg.actorID,
		Container: c.rootName(),
		Path:      joinPath(c.Path(), key),
		Kind:      kindOf(stored).String(),
	}))
}

// Delete removes key from this container. It reports whether anything was
// removed. On an instance the template value becomes visible again.
func (c *Container) Delete(key string) bool {
	value, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	if child, ok := value.(*Container); ok {
		child.parent = nil
	}
	c.notify(activity.BuildValueDeletedEvent(activity.ValueInput{
		ActorID:   c.cfg.actorID,
		Container: c.rootName(),
		Path:      joinPath(c.Path(), key),
		Kind:      kindOf(value).String(),
	}))
	return true
}

// Get returns the value at key converted to T. Reference slots are resolved
// unless T is *reference.Reference or reference.Descriptor. A reference that
// cannot be resolved yields the zero value and a nil error; the failure is
// logged by the resolver and the slot is left intact.
//
// Sequences and mappings are returned as copies. A nested container
// inherited from a template is returned as an instance layered on it, so
// writes through it land in c and never in the template.
func Get[T any](c *Container, key string) (T, error) {
	return GetContext[T](context.Background(), c, key)
}

// GetContext is Get with a context passed to reference resolution.
func GetContext[T any](ctx context.Context, c *Container, key string) (T, error) {
	var zero T
	if err := validateKey(key); err != nil {
		return zero, err
	}
	value, ok := c.read(key)
	if !ok {
		return zero, errdefs.KeyNotFound(joinPath(c.Path(), key))
	}
	return convertValue[T](ctx, c, key, value)
}

// TryGet is the soft form of Get: it reports false instead of an error for
// missing keys, type mismatches and unresolved references.
func TryGet[T any](c *Container, key string) (T, bool) {
	var zero T
	value, ok := c.read(key)
	if !ok {
		return zero, false
	}
	typed, err := convertValue[T](context.Background(), c, key, value)
	if err != nil {
		return zero, false
	}
	if ref, isRef := value.(*reference.Reference); isRef && !isReferenceTarget[T]() && !ref.IsResolved() {
		return zero, false
	}
	return typed, true
}

// Reference returns the reference stored at key without resolving it.
func (c *Container) Reference(key string) (*reference.Reference, bool) {
	value, ok := c.lookup(key)
	if !ok {
		return nil, false
	}
	ref, ok := value.(*reference.Reference)
	return ref, ok
}

// Release drops the resolved cache of every reference in c and its children.
func (c *Container) Release() {
	for _, value := range c.entries {
		releaseValue(value)
	}
}

func releaseValue(value any) {
	switch typed := value.(type) {
	case *reference.Reference:
		typed.Release()
	case *Container:
		typed.Release()
	case []any:
		for _, item := range typed {
			releaseValue(item)
		}
	case map[string]any:
		for _, item := range typed {
			releaseValue(item)
		}
	}
}

// lookup finds key in c or its template chain.
func (c *Container) lookup(key string) (any, bool) {
	value, _, ok := c.lookupOwned(key)
	return value, ok
}

// lookupOwned is lookup that also reports whether c itself holds key.
func (c *Container) lookupOwned(key string) (value any, own bool, ok bool) {
	for layer := c; layer != nil; layer = layer.template {
		if value, ok := layer.entries[key]; ok {
			return value, layer == c, true
		}
	}
	return nil, false, false
}

// read is lookup for values handed to callers. An inherited container comes
// back as an unattached instance child of c.
func (c *Container) read(key string) (any, bool) {
	value, own, ok := c.lookupOwned(key)
	if !ok {
		return nil, false
	}
	if child, isContainer := value.(*Container); isContainer && !own {
		view := c.newChild(key, child)
		view.view = true
		return view, true
	}
	return value, true
}

// attach stores a view in its parent, attaching the parent first when it
// is a view too. A parent that gained its own value at the key meanwhile
// keeps it.
func (c *Container) attach() {
	if !c.view {
		return
	}
	c.view = false
	if c.parent == nil {
		return
	}
	c.parent.attach()
	if _, taken := c.parent.entries[c.key]; !taken {
		c.parent.entries[c.key] = c
	}
}

func (c *Container) rootName() string {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return root.cfg.name
}

func (c *Container) notify(event activity.Event) {
	hooks := c.cfg.activityHooks
	if !hooks.Enabled() {
		return
	}
	if err := hooks.Notify(context.Background(), event); err != nil {
		c.cfg.log().Log(logging.Event{
			Level:     logging.LevelWarn,
			Component: logComponent,
			Message:   "activity hook failed",
			Fields:    map[string]any{"verb": event.Verb, "path": event.Path},
			Err:       err,
		})
	}
}

func validateKey(key string) error {
	if key == "" {
		return errdefs.InvalidArgument("key must not be empty")
	}
	if strings.Contains(key, pathSeparator) {
		return errdefs.InvalidArgument("key %q must not contain %q; use PathSet", key, pathSeparator)
	}
	if strings.HasPrefix(key, reservedPrefix) {
		return errdefs.InvalidArgument("key %q must not start with %q", key, reservedPrefix)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

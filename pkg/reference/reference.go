package reference

import (
	"context"
	"errors"
	"reflect"

	"github.com/goliatone/go-datastore/pkg/errdefs"
)

// Cache holds the transient resolution state of a Reference. It is never
// persisted or copied between references.
type Cache struct {
	Handle    any
	Type      reflect.Type
	Attempted bool
	Err       error
}

// Reference is a serializable pointer to an externally owned resource.
// A Reference is not safe for concurrent use.
type Reference struct {
	desc     Descriptor
	cache    Cache
	resolver *Resolver
}

// NewFromObject builds a reference to a live object. The declared type name
// is taken from obj and the cache starts warm. With StrategyRegistry the
// object is registered under key right away.
func NewFromObject(resolver *Resolver, strategy Strategy, key string, obj any) (*Reference, error) {
	if key == "" {
		return nil, errdefs.InvalidArgument("reference key must not be empty")
	}
	if isNilHandle(obj) {
		return nil, errdefs.InvalidArgument("reference %q object must not be nil", key)
	}
	if resolver == nil {
		resolver = DefaultResolver()
	}

	typ := reflect.TypeOf(obj)
	desc := Descriptor{Strategy: strategy, Key: key, TypeName: resolver.types.RegisterType(typ)}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if strategy == StrategyRegistry {
		if err := resolver.Register(key, obj); err != nil {
			return nil, err
		}
	}
	return &Reference{
		desc:     desc,
		resolver: resolver,
		cache:    Cache{Handle: obj, Type: typ, Attempted: true},
	}, nil
}

// NewFromDescriptor builds a reference with an empty cache.
func NewFromDescriptor(resolver *Resolver, desc Descriptor) (*Reference, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = DefaultResolver()
	}
	return &Reference{desc: desc, resolver: resolver}, nil
}

// Descriptor returns the persisted portion of the reference.
func (r *Reference) Descriptor() Descriptor {
	return r.desc
}

// Resolver returns the resolver the reference dispatches to.
func (r *Reference) Resolver() *Resolver {
	return r.resolver
}

// CacheState returns a copy of the resolution cache.
func (r *Reference) CacheState() Cache {
	return r.cache
}

// GetObject returns the cached handle or resolves it. The outcome, including
// a nil result, is memoized until Release is called.
func (r *Reference) GetObject(ctx context.Context) any {
	handle, _ := r.Resolve(ctx)
	return handle
}

// Resolve is GetObject that also reports the memoized resolution error.
func (r *Reference) Resolve(ctx context.Context) (any, error) {
	if r.cache.Handle != nil {
		return r.cache.Handle, nil
	}
	if r.cache.Attempted {
		return nil, r.cache.Err
	}
	handle, err := r.resolver.Load(ctx, r.desc, r.GetObjectType())
	r.cache.Handle = handle
	r.cache.Err = err
	r.cache.Attempted = true
	return handle, err
}

// GetObjectType returns the runtime type named by the descriptor, or nil when
// the name is not registered with the resolver's TypeRegistry.
func (r *Reference) GetObjectType() reflect.Type {
	if r.cache.Type != nil {
		return r.cache.Type
	}
	if typ, ok := r.resolver.types.Lookup(r.desc.TypeName); ok {
		r.cache.Type = typ
		return typ
	}
	return nil
}

// Release clears the cache so the next GetObject resolves again.
func (r *Reference) Release() {
	r.cache = Cache{}
}

// IsResolved reports whether a live handle is cached.
func (r *Reference) IsResolved() bool {
	return r.cache.Handle != nil
}

// CloneDescriptor returns a new reference sharing the descriptor and resolver
// but with an empty cache.
func (r *Reference) CloneDescriptor() *Reference {
	return &Reference{desc: r.desc, resolver: r.resolver}
}

// WithResolver returns a descriptor-only copy bound to resolver.
func (r *Reference) WithResolver(resolver *Resolver) *Reference {
	if resolver == nil {
		resolver = r.resolver
	}
	return &Reference{desc: r.desc, resolver: resolver}
}

func (r *Reference) String() string {
	return r.desc.String()
}

// GetObjectAs resolves ref and asserts the handle to T. It fails soft: a nil
// or mismatched handle yields the zero value and false.
func GetObjectAs[T any](ctx context.Context, ref *Reference) (T, bool) {
	var zero T
	if ref == nil {
		return zero, false
	}
	typed, ok := ref.GetObject(ctx).(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// IsUnresolved reports whether err came from a resolution that found nothing.
func IsUnresolved(err error) bool {
	return errors.Is(err, errdefs.ErrUnresolvedReference)
}

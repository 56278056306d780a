package reference

import (
	"context"
	"fmt"
	"path"
	"reflect"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/locator"
	"github.com/goliatone/go-datastore/pkg/registry"
)

// DefaultRegistryPath is the well-known resource path of the persisted
// registry manifest, used when no registry service is available.
const DefaultRegistryPath = "DataStoreReferenceRegistry"

// Loader resolves a descriptor into a live handle. typ is the runtime type
// named by the descriptor, or nil if that type is not known to the process.
// A nil handle with a nil error means "not found".
type Loader interface {
	Load(ctx context.Context, desc Descriptor, typ reflect.Type) (any, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, desc Descriptor, typ reflect.Type) (any, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, desc Descriptor, typ reflect.Type) (any, error) {
	return f(ctx, desc, typ)
}

// PathLoader loads resources from a conventional resource path.
type PathLoader interface {
	LoadByPath(ctx context.Context, resourcePath string, typ reflect.Type) (any, error)
}

// PathLoaderFunc adapts a function to PathLoader.
type PathLoaderFunc func(ctx context.Context, resourcePath string, typ reflect.Type) (any, error)

// LoadByPath implements PathLoader.
func (f PathLoaderFunc) LoadByPath(ctx context.Context, resourcePath string, typ reflect.Type) (any, error) {
	return f(ctx, resourcePath, typ)
}

// AsyncLoader issues load-by-key requests that complete asynchronously.
type AsyncLoader interface {
	LoadByKeyAsync(ctx context.Context, key string) Future
}

// AsyncLoaderFunc adapts a function to AsyncLoader.
type AsyncLoaderFunc func(ctx context.Context, key string) Future

// LoadByKeyAsync implements AsyncLoader.
func (f AsyncLoaderFunc) LoadByKeyAsync(ctx context.Context, key string) Future {
	return f(ctx, key)
}

// RegistryStrategy resolves keys through the registry service published in
// Locator. When none is published it loads the registry manifest stored at
// FallbackPath through Fallback, and failing that uses Default.
type RegistryStrategy struct {
	Locator      *locator.Locator
	Fallback     PathLoader
	FallbackPath string
	// Types maps manifest type names to the types handles are decoded into.
	Types *TypeRegistry
	// Default supplies the registry used when neither source yields one.
	Default func() *registry.Registry
	// Options configure a registry built from a manifest.
	Options []registry.Option

	mu     sync.Mutex
	loaded *registry.Registry
}

// Load implements Loader.
func (s *RegistryStrategy) Load(ctx context.Context, desc Descriptor, _ reflect.Type) (any, error) {
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errdefs.ErrUnresolvedReference
	}
	return reg.GetObject(desc.Key)
}

// Registry returns the registry keys are resolved against, or nil when no
// source provides one. A manifest-built registry is kept for later calls.
func (s *RegistryStrategy) Registry(ctx context.Context) (*registry.Registry, error) {
	if s.Locator != nil {
		if reg, ok := locator.TryResolve[*registry.Registry](s.Locator); ok && reg != nil {
			return reg, nil
		}
	}
	if s.Fallback != nil {
		reg, err := s.persisted(ctx)
		if err != nil {
			return nil, err
		}
		if reg != nil {
			return reg, nil
		}
	}
	if s.Default != nil {
		return s.Default(), nil
	}
	return nil, nil
}

func (s *RegistryStrategy) persisted(ctx context.Context) (*registry.Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded != nil {
		return s.loaded, nil
	}

	resourcePath := s.FallbackPath
	if resourcePath == "" {
		resourcePath = DefaultRegistryPath
	}
	raw, err := s.Fallback.LoadByPath(ctx, resourcePath, manifestType)
	if err != nil {
		return nil, fmt.Errorf("load registry %q: %w", resourcePath, err)
	}

	var manifest registry.Manifest
	switch typed := raw.(type) {
	case nil:
		return nil, nil
	case *registry.Registry:
		s.loaded = typed
		return typed, nil
	case *registry.Manifest:
		if typed == nil {
			return nil, nil
		}
		manifest = *typed
	case registry.Manifest:
		manifest = typed
	default:
		return nil, errdefs.TypeMismatch(resourcePath, manifestType.String(), fmt.Sprintf("%T", raw))
	}

	reg, err := manifest.Build(func(entry registry.ManifestEntry) (any, error) {
		typ, _ := s.Types.Lookup(entry.TypeName)
		return s.Fallback.LoadByPath(ctx, entry.ResourcePath(), typ)
	}, s.Options...)
	if err != nil {
		return nil, fmt.Errorf("load registry %q: %w", resourcePath, err)
	}
	s.loaded = reg
	return reg, nil
}

var manifestType = reflect.TypeOf((*registry.Manifest)(nil))

// PathStrategy resolves keys by loading Prefix/key through Loader.
type PathStrategy struct {
	Loader PathLoader
	Prefix string
}

// Load implements Loader.
func (s *PathStrategy) Load(ctx context.Context, desc Descriptor, typ reflect.Type) (any, error) {
	if s.Loader == nil {
		return nil, errdefs.InvalidArgument("path strategy has no loader")
	}
	return s.Loader.LoadByPath(ctx, s.ResourcePath(desc.Key), typ)
}

// ResourcePath returns the resource path for key.
func (s *PathStrategy) ResourcePath(key string) string {
	prefix := strings.Trim(s.Prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// AddressableStrategy resolves keys through an AsyncLoader and blocks until
// the load completes. Concurrent loads of the same key share one request.
type AddressableStrategy struct {
	Loader AsyncLoader

	group singleflight.Group
}

// Load implements Loader.
func (s *AddressableStrategy) Load(ctx context.Context, desc Descriptor, typ reflect.Type) (any, error) {
	if s.Loader == nil {
		return nil, errdefs.InvalidArgument("addressable strategy has no loader")
	}
	handle, err, _ := s.group.Do(desc.Key, func() (any, error) {
		f := s.Loader.LoadByKeyAsync(ctx, desc.Key)
		if f == nil {
			return nil, nil
		}
		return f.Wait(ctx)
	})
	if err != nil {
		return nil, err
	}
	if handle != nil && typ != nil && !reflect.TypeOf(handle).AssignableTo(typ) {
		return nil, errdefs.TypeMismatch(desc.Key, typ.String(), reflect.TypeOf(handle).String())
	}
	return handle, nil
}

package datastore

import (
	"context"

	"github.com/goliatone/go-datastore/internal/hydrate"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// HydrateOption configures Hydrate.
type HydrateOption func(*hydrateConfig)

type hydrateConfig struct {
	strict  bool
	handles bool
}

// HydrateStrict rejects snapshot keys that have no matching struct field.
func HydrateStrict() HydrateOption {
	return func(cfg *hydrateConfig) {
		cfg.strict = true
	}
}

// HydrateHandles resolves reference slots into fields of the handle type.
// Fields typed reference.Descriptor still receive the descriptor, and a slot
// that cannot be resolved leaves its field at the zero value.
func HydrateHandles() HydrateOption {
	return func(cfg *hydrateConfig) {
		cfg.handles = true
	}
}

// Hydrate decodes the effective contents of c into T using JSON field
// names. References decode as their descriptor fields unless HydrateHandles
// is given.
func Hydrate[T any](c *Container, opts ...HydrateOption) (T, error) {
	return HydrateContext[T](context.Background(), c, opts...)
}

// HydrateContext is Hydrate with a context passed to reference resolution.
func HydrateContext[T any](ctx context.Context, c *Container, opts ...HydrateOption) (T, error) {
	cfg := hydrateConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var decoderOpts []hydrate.Option[T]
	if cfg.strict {
		decoderOpts = append(decoderOpts, hydrate.Strict[T]())
	}
	if cfg.handles {
		decoderOpts = append(decoderOpts, hydrate.Handles[T](func(path string, desc reference.Descriptor) (any, error) {
			return c.handleAt(ctx, path, desc), nil
		}))
	}
	src := hydrate.Source{Name: c.Name(), Layer: layerName(c, 0)}
	return hydrate.New[T](decoderOpts...).Decode(src, c.Snapshot())
}

// handleAt resolves the reference stored at path, reusing its cached
// handle. Slots nested in sequences or mappings have no container path and
// are resolved from desc alone.
func (c *Container) handleAt(ctx context.Context, path string, desc reference.Descriptor) any {
	ref, ok := c.PathReference(path)
	if !ok || ref.Descriptor() != desc {
		fresh, err := reference.NewFromDescriptor(c.Resolver(), desc)
		if err != nil {
			return nil
		}
		ref = fresh
	}
	handle, err := ref.Resolve(ctx)
	if err != nil {
		return nil
	}
	return handle
}

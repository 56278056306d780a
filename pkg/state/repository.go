package state

import (
	"context"
	"fmt"

	datastore "github.com/goliatone/go-datastore"
	"github.com/goliatone/go-datastore/layering"
)

// Mutator edits a loaded container in place before it is saved.
type Mutator func(*datastore.Container) error

// Repository turns stored records into containers. Options are applied to
// every container it builds.
type Repository struct {
	Store   Store
	Options []datastore.Option
}

// NewRepository constructs a Repository over store.
func NewRepository(store Store, opts ...datastore.Option) Repository {
	return Repository{Store: store, Options: opts}
}

// Load decodes the record stored for ref into a container named after it.
func (r Repository) Load(ctx context.Context, ref Ref) (*datastore.Container, Meta, error) {
	record, meta, ok, err := r.load(ctx, ref)
	if err != nil {
		return nil, Meta{}, err
	}
	if !ok {
		return nil, Meta{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	c, err := datastore.FromRecord(record, r.options(ref.Name)...)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: decode %s: %w", ref, err)
	}
	return c, meta, nil
}

// LoadInstance loads template and layers the instance record on top of it.
// A missing instance record yields an empty instance; a missing template is
// an error. The returned Meta belongs to the instance record.
func (r Repository) LoadInstance(ctx context.Context, template, instance Ref) (*datastore.Container, Meta, error) {
	tmpl, _, err := r.Load(ctx, template)
	if err != nil {
		return nil, Meta{}, err
	}
	record, meta, ok, err := r.load(ctx, instance)
	if err != nil {
		return nil, Meta{}, err
	}
	c, err := datastore.NewInstance(tmpl, r.options(instance.Name)...)
	if err != nil {
		return nil, Meta{}, err
	}
	if ok {
		if err := c.LoadRecord(record); err != nil {
			return nil, Meta{}, fmt.Errorf("state: decode %s: %w", instance, err)
		}
	}
	return c, meta, nil
}

// LoadWithDefaults merges the stored record over defaults into one container.
// A missing record yields a container built from defaults alone.
func (r Repository) LoadWithDefaults(ctx context.Context, ref Ref, defaults map[string]any) (*datastore.Container, Meta, error) {
	record, meta, ok, err := r.load(ctx, ref)
	if err != nil {
		return nil, Meta{}, err
	}
	layers := []map[string]any{defaults}
	if ok {
		layers = []map[string]any{record, defaults}
	}
	merged := layering.MergeLayers(layers...)
	if merged == nil {
		merged = map[string]any{}
	}
	c, err := datastore.FromRecord(merged, r.options(ref.Name)...)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: decode %s: %w", ref, err)
	}
	return c, meta, nil
}

// Resolve loads the named records of domain, ordered strongest first, and
// chains them into a template hierarchy: the last name found is the root
// template. Missing records are skipped.
func (r Repository) Resolve(ctx context.Context, domain string, names ...string) (*datastore.Container, error) {
	if domain == "" {
		return nil, fmt.Errorf("state: domain is required")
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("state: at least one name is required")
	}

	layers := make([]datastore.Layer, 0, len(names))
	for i, name := range names {
		ref := Ref{Domain: domain, Name: name}
		record, _, ok, err := r.load(ctx, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		layers = append(layers, datastore.NewLayer(name, len(names)-i, record))
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no records for domain %q", ErrNotFound, domain)
	}

	stack, err := datastore.NewStack(layers...)
	if err != nil {
		return nil, fmt.Errorf("state: stack: %w", err)
	}
	return stack.Build(r.Options...)
}

// Save persists the own entries of c. A non-empty meta.ETag must match the
// stored ETag.
func (r Repository) Save(ctx context.Context, ref Ref, c *datastore.Container, meta Meta) (Meta, error) {
	if c == nil {
		return Meta{}, fmt.Errorf("state: container is required")
	}
	_, current, _, err := r.load(ctx, ref)
	if err != nil {
		return Meta{}, err
	}
	if err := checkETag(meta, current); err != nil {
		return current, err
	}
	return r.save(ctx, ref, c.Record(), mergeMeta(current, meta))
}

// Mutate loads the record for ref (an empty container when missing), applies
// fn and saves the result. Nothing is saved when fn fails or the ETag in meta
// does not match the stored one.
func (r Repository) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator) (*datastore.Container, Meta, error) {
	if fn == nil {
		return nil, Meta{}, fmt.Errorf("state: mutator is required")
	}
	record, loaded, ok, err := r.load(ctx, ref)
	if err != nil {
		return nil, Meta{}, err
	}
	if !ok {
		record = map[string]any{}
		loaded = Meta{}
	}
	if err := checkETag(meta, loaded); err != nil {
		return nil, loaded, err
	}

	c, err := datastore.FromRecord(record, r.options(ref.Name)...)
	if err != nil {
		return nil, loaded, fmt.Errorf("state: decode %s: %w", ref, err)
	}
	if err := fn(c); err != nil {
		return nil, loaded, err
	}

	saved, err := r.save(ctx, ref, c.Record(), mergeMeta(loaded, meta))
	if err != nil {
		return nil, loaded, err
	}
	return c, saved, nil
}

func (r Repository) load(ctx context.Context, ref Ref) (map[string]any, Meta, bool, error) {
	if r.Store == nil {
		return nil, Meta{}, false, fmt.Errorf("state: store is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return nil, Meta{}, false, err
	}
	record, meta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: load %s: %w", ref, err)
	}
	return record, meta, ok, nil
}

func (r Repository) save(ctx context.Context, ref Ref, record map[string]any, meta Meta) (Meta, error) {
	saved, err := r.Store.Save(ctx, ref, record, meta)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %s: %w", ref, err)
	}
	return saved, nil
}

func (r Repository) options(name string) []datastore.Option {
	out := make([]datastore.Option, 0, len(r.Options)+1)
	out = append(out, r.Options...)
	return append(out, datastore.WithName(name))
}

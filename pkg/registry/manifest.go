package registry

import (
	"fmt"

	"github.com/goliatone/go-datastore/pkg/errdefs"
)

// Manifest is the persisted form of a registry. Handles are not serialized;
// each entry names the resource path its handle is loaded from.
type Manifest struct {
	Entries []ManifestEntry `json:"entries" yaml:"entries"`
}

// ManifestEntry binds a registry key to a resource path. TypeName is the
// declared type the handle should be decoded into, when known.
type ManifestEntry struct {
	Key      string `json:"key" yaml:"key"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	TypeName string `json:"declaredTypeName,omitempty" yaml:"declaredTypeName,omitempty"`
}

// ResourcePath returns Path, or Key when no path is given.
func (e ManifestEntry) ResourcePath() string {
	if e.Path != "" {
		return e.Path
	}
	return e.Key
}

// HandleLoader loads the handle of one manifest entry. A nil handle with a
// nil error skips the entry.
type HandleLoader func(entry ManifestEntry) (any, error)

// Validate checks that every entry has a key.
func (m Manifest) Validate() error {
	for i, entry := range m.Entries {
		if entry.Key == "" {
			return errdefs.InvalidArgument("manifest entry %d has an empty key", i)
		}
	}
	return nil
}

// Build loads every entry through load and returns a registry holding the
// resulting handles. Entries whose resource is missing are skipped.
func (m Manifest) Build(load HandleLoader, opts ...Option) (*Registry, error) {
	if load == nil {
		return nil, errdefs.InvalidArgument("manifest handle loader must not be nil")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(m.Entries))
	for _, item := range m.Entries {
		handle, err := load(item)
		if err != nil {
			return nil, fmt.Errorf("registry entry %q: %w", item.Key, err)
		}
		if isNil(handle) {
			continue
		}
		entries = append(entries, Entry{Key: item.Key, Handle: handle})
	}
	r := New(opts...)
	if err := r.Load(entries); err != nil {
		return nil, err
	}
	return r, nil
}

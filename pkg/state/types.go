package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrETagMismatch = errors.New("state: etag mismatch")
	ErrNotFound     = errors.New("state: record not found")
)

// Ref identifies one persisted container record within a domain.
type Ref struct {
	Domain string
	Name   string
}

// Identifier returns the canonical storage key, "<domain>/<name>".
func (r Ref) Identifier() (string, error) {
	if r.Domain == "" {
		return "", fmt.Errorf("state: domain is required")
	}
	if r.Name == "" {
		return "", fmt.Errorf("state: name is required for domain %q", r.Domain)
	}
	if strings.Contains(r.Domain, "/") {
		return "", fmt.Errorf("state: domain %q must not contain %q", r.Domain, "/")
	}
	if strings.Contains(r.Name, "/") {
		return "", fmt.Errorf("state: name %q must not contain %q", r.Name, "/")
	}
	return r.Domain + "/" + r.Name, nil
}

func (r Ref) String() string {
	return r.Domain + "/" + r.Name
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads and saves one container record for a single Ref. Implementations
// assign a fresh ETag on every Save.
type Store interface {
	Load(ctx context.Context, ref Ref) (record map[string]any, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, record map[string]any, meta Meta) (Meta, error)
}

// Deleter is implemented by stores that can drop records.
type Deleter interface {
	Delete(ctx context.Context, ref Ref) error
}

// stampMeta prepares meta for persistence: a snapshot id when the caller did
// not supply one, a new ETag and the save timestamp.
func stampMeta(meta Meta, now time.Time) Meta {
	out := cloneMeta(meta)
	if out.SnapshotID == "" {
		out.SnapshotID = uuid.NewString()
	}
	out.ETag = uuid.NewString()
	out.UpdatedAt = now.UTC()
	return out
}

func cloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}

func checkETag(expected, current Meta) error {
	if expected.ETag == "" || current.ETag == "" || expected.ETag == current.ETag {
		return nil
	}
	return fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, expected.ETag, current.ETag)
}

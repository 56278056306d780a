package state

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-datastore/layering"
)

// MemoryStore is an in-memory Store intended for tests and examples. It keys
// records by Ref.Identifier() and deep copies them on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	record map[string]any
	meta   Meta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryRecord{}, now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, ref Ref) (map[string]any, Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return nil, Meta{}, false, err
	}

	s.mu.RLock()
	entry, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, Meta{}, false, nil
	}
	return layering.Clone(entry.record), cloneMeta(entry.meta), true, nil
}

func (s *MemoryStore) Save(_ context.Context, ref Ref, record map[string]any, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	if record == nil {
		record = map[string]any{}
	}

	stamped := stampMeta(meta, s.now())
	s.mu.Lock()
	s.records[key] = memoryRecord{record: layering.Clone(record), meta: stamped}
	s.mu.Unlock()
	return cloneMeta(stamped), nil
}

func (s *MemoryStore) Delete(_ context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

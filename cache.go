package datastore

import "sync"

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// WithProgramCache registers a program cache used by the default evaluator.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *containerConfig) {
		cfg.programCache = cache
	}
}

// MapProgramCache is a ProgramCache backed by a sync.Map.
type MapProgramCache struct {
	programs sync.Map
}

// NewProgramCache returns an empty in-memory program cache.
func NewProgramCache() *MapProgramCache {
	return &MapProgramCache{}
}

// Get implements ProgramCache.
func (c *MapProgramCache) Get(key string) (any, bool) {
	return c.programs.Load(key)
}

// Set implements ProgramCache.
func (c *MapProgramCache) Set(key string, value any) {
	c.programs.Store(key, value)
}

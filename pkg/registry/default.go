package registry

import "sync"

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
	defaultMu       sync.Mutex
)

// Default returns the process-wide registry, creating it on first access.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		if defaultRegistry == nil {
			defaultRegistry = New()
		}
	})
	return defaultRegistry
}

// SetDefault installs r as the process-wide registry. It takes effect only
// before the first call to Default or after ResetDefault.
func SetDefault(r *Registry) {
	if r == nil {
		return
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce.Do(func() {
		defaultRegistry = r
	})
}

// ResetDefault tears down the process-wide registry; the next Default call
// creates a fresh one.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOnce = sync.Once{}
	defaultRegistry = nil
}

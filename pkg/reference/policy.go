package reference

import (
	"github.com/google/uuid"
)

// Resource is implemented by host-owned handles that a container stores as
// references instead of by value.
type Resource interface {
	ResourceKey() string
}

// Policy chooses the strategy and key used when a handle is wrapped into a
// reference.
type Policy interface {
	Select(handle Resource) (Strategy, string)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(handle Resource) (Strategy, string)

// Select implements Policy.
func (f PolicyFunc) Select(handle Resource) (Strategy, string) {
	return f(handle)
}

// StaticPolicy always picks Strategy and keys handles by ResourceKey,
// generating a random key when the handle reports none.
type StaticPolicy struct {
	Strategy Strategy
}

// Select implements Policy.
func (p StaticPolicy) Select(handle Resource) (Strategy, string) {
	key := ""
	if handle != nil {
		key = handle.ResourceKey()
	}
	if key == "" {
		key = uuid.NewString()
	}
	return p.Strategy, key
}

// DefaultPolicy stores handles through the registry strategy.
func DefaultPolicy() Policy {
	return StaticPolicy{Strategy: StrategyRegistry}
}

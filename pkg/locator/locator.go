// Package locator is a minimal service locator. Services are keyed by the
// static type they are requested as, so a caller asks for a *registry.Registry
// (or an interface) and never for a string name.
package locator

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-datastore/pkg/errdefs"
)

// Locator stores service implementations keyed by type.
type Locator struct {
	services sync.Map // reflect.Type -> any
}

// New creates an empty locator.
func New() *Locator {
	return &Locator{}
}

// Provide registers svc under the type T, replacing any previous value.
func Provide[T any](l *Locator, svc T) {
	if l == nil {
		return
	}
	l.services.Store(typeKey[T](), svc)
}

// Resolve returns the service registered for T or an error when absent.
func Resolve[T any](l *Locator) (T, error) {
	svc, ok := TryResolve[T](l)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: no service registered for %s", errdefs.ErrUnsupportedStrategy, typeKey[T]())
	}
	return svc, nil
}

// TryResolve returns the service registered for T and whether it was found.
// It never errors, which makes it the capability query for optional services.
func TryResolve[T any](l *Locator) (T, bool) {
	var zero T
	if l == nil {
		return zero, false
	}
	raw, ok := l.services.Load(typeKey[T]())
	if !ok {
		return zero, false
	}
	svc, ok := raw.(T)
	return svc, ok
}

// Remove drops the service registered for T.
func Remove[T any](l *Locator) {
	if l == nil {
		return
	}
	l.services.Delete(typeKey[T]())
}

// Reset drops every registered service.
func (l *Locator) Reset() {
	if l == nil {
		return
	}
	l.services.Range(func(key, _ any) bool {
		l.services.Delete(key)
		return true
	})
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

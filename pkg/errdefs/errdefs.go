// Package errdefs defines the error kinds shared by the registry, reference
// and container packages. Call sites wrap these sentinels with fmt.Errorf and
// %w so callers can classify failures with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports an empty key, nil handle or malformed input at
	// an API boundary. It is always returned synchronously.
	ErrInvalidArgument = errors.New("datastore: invalid argument")
	// ErrTypeMismatch reports that a stored or resolved value is not of the
	// requested type. Soft APIs map it to a false/zero result.
	ErrTypeMismatch = errors.New("datastore: type mismatch")
	// ErrUnresolvedReference reports that a storage strategy could not find
	// the referenced resource.
	ErrUnresolvedReference = errors.New("datastore: unresolved reference")
	// ErrUnsupportedStrategy reports that no strategy is registered for the
	// requested storage kind.
	ErrUnsupportedStrategy = errors.New("datastore: unsupported storage strategy")
	// ErrKeyNotFound reports a missing key or path segment.
	ErrKeyNotFound = errors.New("datastore: key not found")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted detail message.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// KeyNotFound wraps ErrKeyNotFound with the missing key or path.
func KeyNotFound(key string) error {
	return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
}

// TypeMismatch wraps ErrTypeMismatch with the wanted and actual type names.
func TypeMismatch(key, want, got string) error {
	return fmt.Errorf("%w: %q holds %s, want %s", ErrTypeMismatch, key, got, want)
}

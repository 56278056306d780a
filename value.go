package datastore

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// Kind classifies a stored value.
type Kind int

const (
	KindInvalid Kind = iota
	KindPrimitive
	KindSequence
	KindMapping
	KindContainer
	KindReference
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	case KindContainer:
		return "container"
	case KindReference:
		return "reference"
	default:
		return "invalid"
	}
}

func kindOf(value any) Kind {
	switch value.(type) {
	case *Container:
		return KindContainer
	case *reference.Reference:
		return KindReference
	case []any:
		return KindSequence
	case map[string]any:
		return KindMapping
	case nil:
		return KindInvalid
	default:
		return KindPrimitive
	}
}

var (
	referenceType  = reflect.TypeOf((*reference.Reference)(nil))
	descriptorType = reflect.TypeOf(reference.Descriptor{})
)

// normalize converts value into its stored representation: *Container,
// *reference.Reference, []any, map[string]any or a primitive scalar.
func (c *Container) normalize(key string, value any) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, errdefs.InvalidArgument("value for %q must not be nil", key)
	case *Container:
		if typed == nil {
			return nil, errdefs.InvalidArgument("container for %q must not be nil", key)
		}
		if typed == c || typed.isAncestorOf(c) {
			return nil, errdefs.InvalidArgument("container for %q would create a cycle", key)
		}
		if typed.parent != nil && (typed.parent != c || typed.key != key) {
			return typed.Clone(), nil
		}
		return typed, nil
	case *reference.Reference:
		if typed == nil {
			return nil, errdefs.InvalidArgument("reference for %q must not be nil", key)
		}
		return typed, nil
	case reference.Descriptor:
		return reference.NewFromDescriptor(c.cfg.resolverOrDefault(), typed)
	case reference.Resource:
		if isNilValue(reflect.ValueOf(typed)) {
			return nil, errdefs.InvalidArgument("handle for %q must not be nil", key)
		}
		strategy, refKey := c.cfg.policyOrDefault().Select(typed)
		return reference.NewFromObject(c.cfg.resolverOrDefault(), strategy, refKey, typed)
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return typed, nil
	case []any:
		return c.normalizeSequence(key, reflect.ValueOf(typed))
	case map[string]any:
		return c.normalizeMapping(key, reflect.ValueOf(typed))
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, errdefs.InvalidArgument("sequence for %q must not be nil", key)
		}
		return c.normalizeSequence(key, rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errdefs.InvalidArgument("mapping for %q must have string keys, got %s", key, rv.Type())
		}
		if rv.IsNil() {
			return nil, errdefs.InvalidArgument("mapping for %q must not be nil", key)
		}
		return c.normalizeMapping(key, rv)
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		// Named scalar types are stored as their underlying primitive.
		return primitiveOf(rv), nil
	}
	return nil, errdefs.InvalidArgument("unsupported value type %T for %q", value, key)
}

func (c *Container) normalizeSequence(key string, rv reflect.Value) (any, error) {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item, err := c.normalizeElement(fmt.Sprintf("%s[%d]", key, i), rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = item
	}
	return out, nil
}

func (c *Container) normalizeMapping(key string, rv reflect.Value) (any, error) {
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		name := iter.Key().String()
		item, err := c.normalizeElement(key+"["+name+"]", iter.Value().Interface())
		if err != nil {
			return nil, err
		}
		out[name] = item
	}
	return out, nil
}

// normalizeElement handles values nested inside sequences and mappings.
// Nested containers are always copied there since they have no slot owner.
func (c *Container) normalizeElement(key string, value any) (any, error) {
	if child, ok := value.(*Container); ok && child != nil {
		clone := child.Clone()
		clone.parent = nil
		return clone, nil
	}
	return c.normalize(key, value)
}

func primitiveOf(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return rv.Interface()
}

func (c *Container) isAncestorOf(other *Container) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == c {
			return true
		}
	}
	return false
}

func isReferenceTarget[T any]() bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t == referenceType || t == descriptorType
}

// convertValue converts a stored value into T.
func convertValue[T any](ctx context.Context, c *Container, key string, stored any) (T, error) {
	var zero T
	target := reflect.TypeOf((*T)(nil)).Elem()

	if ref, ok := stored.(*reference.Reference); ok {
		switch target {
		case referenceType:
			return any(ref).(T), nil
		case descriptorType:
			return any(ref.Descriptor()).(T), nil
		}
		handle := ref.GetObject(ctx)
		if handle == nil {
			return zero, nil
		}
		if typed, ok := handle.(T); ok {
			return typed, nil
		}
		return zero, errdefs.TypeMismatch(joinPath(c.Path(), key), target.String(), reflect.TypeOf(handle).String())
	}

	switch stored.(type) {
	case []any, map[string]any:
		stored = detachValue(stored)
	}
	if typed, ok := stored.(T); ok {
		return typed, nil
	}

	converted, err := convertReflect(ctx, c, reflect.ValueOf(stored), target)
	if err != nil {
		return zero, errdefs.TypeMismatch(joinPath(c.Path(), key), target.String(), fmt.Sprintf("%T", stored))
	}
	return converted.Interface().(T), nil
}

// convertReflect handles numeric widening/narrowing, named scalar types and
// element-wise conversion of sequences and mappings.
func convertReflect(ctx context.Context, c *Container, value reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !value.IsValid() {
		return reflect.Value{}, errdefs.ErrTypeMismatch
	}
	if value.Type().AssignableTo(target) {
		out := reflect.New(target).Elem()
		out.Set(value)
		return out, nil
	}
	if ref, ok := value.Interface().(*reference.Reference); ok {
		handle := ref.GetObject(ctx)
		if handle == nil {
			return reflect.Zero(target), nil
		}
		return convertReflect(ctx, c, reflect.ValueOf(handle), target)
	}

	switch {
	case isNumericKind(value.Kind()) && isNumericKind(target.Kind()):
		return convertNumber(value, target)
	case value.Kind() == reflect.String && target.Kind() == reflect.String,
		value.Kind() == reflect.Bool && target.Kind() == reflect.Bool:
		return value.Convert(target), nil
	case value.Kind() == reflect.Slice && target.Kind() == reflect.Slice:
		out := reflect.MakeSlice(target, value.Len(), value.Len())
		for i := 0; i < value.Len(); i++ {
			item, err := convertReflect(ctx, c, unwrapInterface(value.Index(i)), target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(item)
		}
		return out, nil
	case value.Kind() == reflect.Map && target.Kind() == reflect.Map && target.Key().Kind() == reflect.String:
		out := reflect.MakeMapWithSize(target, value.Len())
		iter := value.MapRange()
		for iter.Next() {
			item, err := convertReflect(ctx, c, unwrapInterface(iter.Value()), target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(iter.Key().Convert(target.Key()), item)
		}
		return out, nil
	}
	return reflect.Value{}, errdefs.ErrTypeMismatch
}

func unwrapInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Exclusive float bounds of the 64-bit integer ranges: 2^63 and 2^64 are
// exactly representable while MaxInt64 and MaxUint64 round up to them.
const (
	minInt64Float  = -(1 << 63)
	maxInt64Float  = 1 << 63
	maxUint64Float = 1 << 64
)

// convertNumber converts between numeric kinds, refusing lossy conversions.
func convertNumber(value reflect.Value, target reflect.Type) (reflect.Value, error) {
	out := reflect.New(target).Elem()
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := value.Int()
		switch target.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if out.OverflowInt(n) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetInt(n)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n < 0 || out.OverflowUint(uint64(n)) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetUint(uint64(n))
		default:
			out.SetFloat(float64(n))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := value.Uint()
		switch target.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetInt(int64(n))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if out.OverflowUint(n) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetUint(n)
		default:
			out.SetFloat(float64(n))
		}
	default:
		f := value.Float()
		switch target.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if f != math.Trunc(f) || f < minInt64Float || f >= maxInt64Float || out.OverflowInt(int64(f)) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetInt(int64(f))
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f != math.Trunc(f) || f < 0 || f >= maxUint64Float || out.OverflowUint(uint64(f)) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetUint(uint64(f))
		default:
			if out.OverflowFloat(f) {
				return reflect.Value{}, errdefs.ErrTypeMismatch
			}
			out.SetFloat(f)
		}
	}
	return out, nil
}

func isNilValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return !rv.IsValid()
}

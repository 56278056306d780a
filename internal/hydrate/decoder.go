// Package hydrate decodes container snapshots into structs by walking the
// json field names of the target. Reference descriptors found in a snapshot
// either decode as descriptors or, with a HandleFunc, as resolved handles.
package hydrate

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-datastore/pkg/reference"
)

var (
	// ErrUnknownField reports a snapshot key with no matching field in
	// strict mode.
	ErrUnknownField = errors.New("hydrate: unknown field")
	// ErrHandleType reports a resolved handle that does not fit its field.
	ErrHandleType = errors.New("hydrate: handle type mismatch")
)

// Source identifies the container a snapshot was taken from.
type Source struct {
	Name  string
	Layer string
}

// HandleFunc returns the handle bound to the reference slot at path. A nil
// handle leaves the field at its zero value.
type HandleFunc func(path string, desc reference.Descriptor) (any, error)

// Check validates or completes a decoded value.
type Check[T any] func(Source, *T) error

// Option configures a Decoder.
type Option[T any] func(*Decoder[T])

// Strict rejects snapshot keys without a matching field, at any depth.
func Strict[T any]() Option[T] {
	return func(d *Decoder[T]) {
		d.strict = true
	}
}

// Handles decodes reference slots into handles returned by fn whenever the
// target field is not a reference.Descriptor.
func Handles[T any](fn HandleFunc) Option[T] {
	return func(d *Decoder[T]) {
		d.handles = fn
	}
}

// WithCheck runs check after decoding.
func WithCheck[T any](check Check[T]) Option[T] {
	return func(d *Decoder[T]) {
		if check != nil {
			d.checks = append(d.checks, check)
		}
	}
}

// Decoder converts snapshots into values of T.
type Decoder[T any] struct {
	strict  bool
	handles HandleFunc
	checks  []Check[T]
}

// New builds a Decoder.
func New[T any](opts ...Option[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode fills a T from snapshot. The snapshot is never modified.
func (d *Decoder[T]) Decode(src Source, snapshot map[string]any) (T, error) {
	var out T
	if snapshot == nil {
		return out, fmt.Errorf("hydrate: container %q has no snapshot", src.Name)
	}
	target := reflect.ValueOf(&out).Elem()
	var err error
	if isRecordStruct(target.Type()) {
		err = d.decodeStruct("", snapshot, target)
	} else {
		err = d.decodeLeaf("", snapshot, target)
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("hydrate: container %q: %w", src.Name, err)
	}
	for _, check := range d.checks {
		if err := check(src, &out); err != nil {
			var zero T
			return zero, fmt.Errorf("hydrate: container %q rejected: %w", src.Name, err)
		}
	}
	return out, nil
}

func (d *Decoder[T]) decodeStruct(path string, record map[string]any, target reflect.Value) error {
	fields := fieldsOf(target.Type())
	for key, value := range record {
		index, ok := fields.find(key)
		if !ok {
			if d.strict {
				return fmt.Errorf("%w %q", ErrUnknownField, joinPath(path, key))
			}
			continue
		}
		if err := d.decodeValue(joinPath(path, key), value, target.FieldByIndex(index)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Decoder[T]) decodeValue(path string, value any, dst reflect.Value) error {
	if desc, ok := value.(reference.Descriptor); ok && d.handles != nil && dst.Type() != descriptorType {
		return d.bindHandle(path, desc, dst)
	}
	if record, ok := value.(map[string]any); ok {
		switch {
		case isRecordStruct(dst.Type()):
			return d.decodeStruct(path, record, dst)
		case dst.Kind() == reflect.Pointer && isRecordStruct(dst.Type().Elem()):
			fresh := reflect.New(dst.Type().Elem())
			if err := d.decodeStruct(path, record, fresh.Elem()); err != nil {
				return err
			}
			dst.Set(fresh)
			return nil
		}
	}
	return d.decodeLeaf(path, value, dst)
}

func (d *Decoder[T]) bindHandle(path string, desc reference.Descriptor, dst reflect.Value) error {
	handle, err := d.handles(path, desc)
	if err != nil {
		return fmt.Errorf("reference %q: %w", path, err)
	}
	if handle == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	hv := reflect.ValueOf(handle)
	if !hv.Type().AssignableTo(dst.Type()) {
		return fmt.Errorf("%w at %q: field is %s, handle is %s", ErrHandleType, path, dst.Type(), hv.Type())
	}
	dst.Set(hv)
	return nil
}

// decodeLeaf round-trips value through encoding/json so scalar coercion,
// slices and custom unmarshalers behave as they do for JSON input.
func (d *Decoder[T]) decodeLeaf(path string, value any, dst reflect.Value) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", displayPath(path), err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if d.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst.Addr().Interface()); err != nil {
		return fmt.Errorf("decode %q: %w", displayPath(path), err)
	}
	return nil
}

var (
	descriptorType  = reflect.TypeOf(reference.Descriptor{})
	timeType        = reflect.TypeOf(time.Time{})
	unmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textType        = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// isRecordStruct reports whether typ is decoded field by field rather than
// handed to encoding/json as a whole.
func isRecordStruct(typ reflect.Type) bool {
	if typ.Kind() != reflect.Struct || typ == descriptorType || typ == timeType {
		return false
	}
	ptr := reflect.PointerTo(typ)
	return !ptr.Implements(unmarshalerType) && !ptr.Implements(textType)
}

type fieldIndex map[string][]int

func (f fieldIndex) find(key string) ([]int, bool) {
	if index, ok := f[key]; ok {
		return index, true
	}
	for name, index := range f {
		if strings.EqualFold(name, key) {
			return index, true
		}
	}
	return nil, false
}

// fieldsOf maps json names to field indexes. Untagged embedded structs are
// flattened into their parent.
func fieldsOf(typ reflect.Type) fieldIndex {
	fields := make(fieldIndex)
	collectFields(typ, nil, fields)
	return fields
}

func collectFields(typ reflect.Type, prefix []int, into fieldIndex) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		index := append(append([]int(nil), prefix...), i)
		if field.Anonymous && name == "" && field.Type.Kind() == reflect.Struct {
			collectFields(field.Type, index, into)
			continue
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if _, taken := into[name]; !taken || len(prefix) == 0 {
			into[name] = index
		}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "."
	}
	return path
}

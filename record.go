package datastore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-datastore/layering"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// MappingField marks a string-keyed mapping inside a record, distinguishing
// it from a nested container.
const MappingField = "$map"

// ContainerField wraps a nested container whose record has exactly the
// three descriptor fields, so it does not load back as a reference.
const ContainerField = layering.ContainerField

// reservedPrefix starts the record markers; container keys may not use it.
const reservedPrefix = "$"

// Record returns the container's own entries as a record tree: nested
// containers become maps, sequences become slices, mappings become
// {"$map": {...}} and references become their three descriptor fields.
// A nested container shaped like a descriptor is wrapped in {"$container": {...}}.
// Resolved handles are never included. Template values are not included;
// use Flatten().Record() for the effective view.
func (c *Container) Record() map[string]any {
	out := make(map[string]any, len(c.entries))
	for key, value := range c.entries {
		out[key] = encodeValue(value)
	}
	return out
}

func encodeValue(value any) any {
	switch typed := value.(type) {
	case *Container:
		record := typed.Record()
		if _, isRef, _ := reference.DescriptorFromRecord(record); isRef {
			return map[string]any{ContainerField: record}
		}
		return record
	case *reference.Reference:
		return typed.Descriptor().Record()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = encodeValue(item)
		}
		return out
	case map[string]any:
		inner := make(map[string]any, len(typed))
		for key, item := range typed {
			inner[key] = encodeValue(item)
		}
		return map[string]any{MappingField: inner}
	default:
		return typed
	}
}

// FromRecord builds a container from a record tree produced by Record.
func FromRecord(record map[string]any, opts ...Option) (*Container, error) {
	c := New(opts...)
	if err := c.LoadRecord(record); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadRecord merges a record tree into c. Nested records are loaded through
// GetOrCreateContainer, so loading into an instance keeps nested template
// layering intact. Activity hooks are not notified.
func (c *Container) LoadRecord(record map[string]any) error {
	for _, key := range sortedKeys(record) {
		raw := record[key]
		if err := validateKey(key); err != nil {
			return err
		}
		if sub, ok := containerRecordOf(raw); ok {
			child, err := c.getOrCreateContainer(key, false)
			if err != nil {
				return err
			}
			if err := child.LoadRecord(sub); err != nil {
				return err
			}
			continue
		}
		decoded, err := c.decodeValue(key, raw)
		if err != nil {
			return err
		}
		stored, err := c.normalize(key, decoded)
		if err != nil {
			return err
		}
		c.put(key, stored)
	}
	return nil
}

func (c *Container) put(key string, stored any) {
	c.attach()
	if child, ok := stored.(*Container); ok {
		child.parent = c
		child.key = key
	}
	c.entries[key] = stored
}

func (c *Container) decodeValue(key string, raw any) (any, error) {
	switch typed := raw.(type) {
	case nil:
		return nil, errdefs.InvalidArgument("null value at %q is not supported", joinPath(c.Path(), key))
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n, nil
		}
		if n, err := strconv.ParseUint(typed.String(), 10, 64); err == nil {
			return n, nil
		}
		f, err := typed.Float64()
		if err != nil {
			return nil, errdefs.InvalidArgument("invalid number %q at %q", typed.String(), joinPath(c.Path(), key))
		}
		return f, nil
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			decoded, err := c.decodeValue(fmt.Sprintf("%s[%d]", key, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	}
	if record, ok := asRecordMap(raw); ok {
		if inner, wrapped := unwrapContainer(record); wrapped {
			return c.decodeContainer(key, inner)
		}
		if desc, isRef, err := reference.DescriptorFromRecord(record); isRef {
			if err != nil {
				return nil, fmt.Errorf("decode %q: %w", joinPath(c.Path(), key), err)
			}
			return reference.NewFromDescriptor(c.cfg.resolverOrDefault(), desc)
		}
		if isMappingRecord(record) {
			inner, _ := asRecordMap(record[MappingField])
			out := make(map[string]any, len(inner))
			for name, item := range inner {
				decoded, err := c.decodeValue(key+"["+name+"]", item)
				if err != nil {
					return nil, err
				}
				out[name] = decoded
			}
			return out, nil
		}
		return c.decodeContainer(key, record)
	}
	return raw, nil
}

// decodeContainer builds a detached container for records nested inside
// sequences and mappings.
func (c *Container) decodeContainer(key string, record map[string]any) (*Container, error) {
	child := newContainer(c.cfg)
	if err := child.LoadRecord(record); err != nil {
		return nil, fmt.Errorf("decode %q: %w", joinPath(c.Path(), key), err)
	}
	return child, nil
}

// containerRecordOf returns the record of a nested container slot.
func containerRecordOf(raw any) (map[string]any, bool) {
	record, ok := asRecordMap(raw)
	if !ok {
		return nil, false
	}
	if inner, wrapped := unwrapContainer(record); wrapped {
		return inner, true
	}
	if isMappingRecord(record) {
		return nil, false
	}
	if _, isRef, _ := reference.DescriptorFromRecord(record); isRef {
		return nil, false
	}
	return record, true
}

func unwrapContainer(record map[string]any) (map[string]any, bool) {
	if len(record) != 1 {
		return nil, false
	}
	return asRecordMap(record[ContainerField])
}

func isMappingRecord(record map[string]any) bool {
	if len(record) != 1 {
		return false
	}
	_, ok := asRecordMap(record[MappingField])
	return ok
}

// asRecordMap accepts the map shapes produced by encoding/json and yaml.v3.
func asRecordMap(raw any) (map[string]any, bool) {
	switch typed := raw.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			name, ok := key.(string)
			if !ok {
				return nil, false
			}
			out[name] = value
		}
		return out, true
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler using the record format.
func (c *Container) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Record())
}

// UnmarshalJSON implements json.Unmarshaler. Integral numbers decode as int64.
func (c *Container) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var record map[string]any
	if err := decoder.Decode(&record); err != nil {
		return fmt.Errorf("datastore: decode json: %w", err)
	}
	c.ensureInit()
	return c.LoadRecord(record)
}

// MarshalYAML implements yaml.Marshaler using the record format.
func (c *Container) MarshalYAML() (any, error) {
	return c.Record(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Container) UnmarshalYAML(node *yaml.Node) error {
	var record map[string]any
	if err := node.Decode(&record); err != nil {
		return fmt.Errorf("datastore: decode yaml: %w", err)
	}
	c.ensureInit()
	return c.LoadRecord(record)
}

// FromJSON decodes a JSON record document into a new container.
func FromJSON(data []byte, opts ...Option) (*Container, error) {
	c := New(opts...)
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// FromYAML decodes a YAML record document into a new container.
func FromYAML(data []byte, opts ...Option) (*Container, error) {
	c := New(opts...)
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ToYAML encodes the container's record as YAML.
func (c *Container) ToYAML() ([]byte, error) {
	return yaml.Marshal(c.Record())
}

func (c *Container) ensureInit() {
	if c.entries == nil {
		c.entries = make(map[string]any)
	}
	if c.cfg == nil {
		c.cfg = &containerConfig{}
	}
}

// Snapshot returns the effective contents as plain Go values: containers and
// mappings become map[string]any, sequences []any and references their
// reference.Descriptor. It is the input to Evaluate, Schema and Hydrate.
func (c *Container) Snapshot() map[string]any {
	out := make(map[string]any)
	for _, key := range c.Keys() {
		value, _ := c.lookup(key)
		out[key] = snapshotValue(value)
	}
	return out
}

func snapshotValue(value any) any {
	switch typed := value.(type) {
	case *Container:
		return typed.Snapshot()
	case *reference.Reference:
		return typed.Descriptor()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = snapshotValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = snapshotValue(item)
		}
		return out
	default:
		return typed
	}
}

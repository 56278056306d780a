// Package reference implements deferred references to externally owned
// resources. A Reference pairs an immutable, persisted Descriptor (how to find
// the resource) with a transient Cache of the resolved handle. Resolution is
// delegated to a Resolver which dispatches on the descriptor's Strategy.
package reference

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-datastore/pkg/errdefs"
)

// Strategy identifies how a descriptor is resolved into a live handle.
type Strategy int

const (
	// StrategyRegistry looks the key up in the reference registry.
	StrategyRegistry Strategy = iota
	// StrategyPath loads the resource from a conventional path built from the key.
	StrategyPath
	// StrategyAddressable issues a load-by-key against the addressable subsystem.
	StrategyAddressable
)

func (s Strategy) String() string {
	switch s {
	case StrategyRegistry:
		return "registry"
	case StrategyPath:
		return "path"
	case StrategyAddressable:
		return "addressable"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a string into a Strategy.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "registry":
		return StrategyRegistry, nil
	case "path", "pathload", "resources":
		return StrategyPath, nil
	case "addressable", "addressables":
		return StrategyAddressable, nil
	default:
		return 0, errdefs.InvalidArgument("unknown storage strategy %q", value)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	switch s {
	case StrategyRegistry, StrategyPath, StrategyAddressable:
		return []byte(s.String()), nil
	default:
		return nil, errdefs.InvalidArgument("unknown storage strategy %d", int(s))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Descriptor is the persisted, cache-free portion of a reference. It is a
// plain comparable value.
type Descriptor struct {
	Strategy Strategy `json:"storageStrategy" yaml:"storageStrategy"`
	Key      string   `json:"key" yaml:"key"`
	TypeName string   `json:"declaredTypeName" yaml:"declaredTypeName"`
}

// Descriptor field names used by record encoders.
const (
	FieldStrategy = "storageStrategy"
	FieldKey      = "key"
	FieldTypeName = "declaredTypeName"
)

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	if d.Key == "" {
		return errdefs.InvalidArgument("reference key must not be empty")
	}
	if d.TypeName == "" {
		return errdefs.InvalidArgument("reference %q declared type name must not be empty", d.Key)
	}
	if _, err := d.Strategy.MarshalText(); err != nil {
		return err
	}
	return nil
}

// Record returns the descriptor as a field-name keyed record.
func (d Descriptor) Record() map[string]any {
	return map[string]any{
		FieldStrategy: d.Strategy.String(),
		FieldKey:      d.Key,
		FieldTypeName: d.TypeName,
	}
}

// DescriptorFromRecord decodes a record produced by Record. ok is false when
// the record does not have exactly the three descriptor fields as strings.
func DescriptorFromRecord(record map[string]any) (Descriptor, bool, error) {
	if len(record) != 3 {
		return Descriptor{}, false, nil
	}
	rawStrategy, ok1 := record[FieldStrategy].(string)
	key, ok2 := record[FieldKey].(string)
	typeName, ok3 := record[FieldTypeName].(string)
	if !ok1 || !ok2 || !ok3 {
		return Descriptor{}, false, nil
	}
	strategy, err := ParseStrategy(rawStrategy)
	if err != nil {
		return Descriptor{}, true, err
	}
	desc := Descriptor{Strategy: strategy, Key: key, TypeName: typeName}
	if err := desc.Validate(); err != nil {
		return Descriptor{}, true, err
	}
	return desc, true, nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s:%s<%s>", d.Strategy, d.Key, d.TypeName)
}

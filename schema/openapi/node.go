package openapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/goliatone/go-datastore/pkg/reference"
)

// ResourceReferenceComponent is the component every stored reference points at.
const ResourceReferenceComponent = "ResourceReference"

// Extensions attached to reference slots.
const (
	DeclaredTypeExtension = "x-declared-type"
	StrategyExtension     = "x-storage-strategy"
)

type schemaNode struct {
	Type         string
	Format       string
	Properties   map[string]*schemaNode
	Items        *schemaNode
	Reference    bool
	DeclaredType string
	Strategy     string
}

func newObjectNode() *schemaNode {
	return &schemaNode{
		Type:       "object",
		Properties: map[string]*schemaNode{},
	}
}

// nodeFromValue infers a schema node from a container snapshot value.
func nodeFromValue(value any) (*schemaNode, error) {
	switch typed := value.(type) {
	case nil:
		return &schemaNode{}, nil
	case reference.Descriptor:
		return &schemaNode{
			Reference:    true,
			DeclaredType: typed.TypeName,
			Strategy:     typed.Strategy.String(),
		}, nil
	case map[string]any:
		node := newObjectNode()
		for key, child := range typed {
			childNode, err := nodeFromValue(child)
			if err != nil {
				return nil, fmt.Errorf("openapi: %s: %w", key, err)
			}
			node.Properties[key] = childNode
		}
		return node, nil
	case []any:
		node := &schemaNode{Type: "array", Items: &schemaNode{}}
		if len(typed) > 0 {
			item, err := nodeFromValue(typed[0])
			if err != nil {
				return nil, err
			}
			node.Items = item
		}
		return node, nil
	case time.Time:
		return &schemaNode{Type: "string", Format: "date-time"}, nil
	case []byte:
		return &schemaNode{Type: "string", Format: "byte"}, nil
	}
	return nodeFromKind(reflect.ValueOf(value))
}

func nodeFromKind(rv reflect.Value) (*schemaNode, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return &schemaNode{Type: "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &schemaNode{Type: "integer"}, nil
	case reflect.Float32, reflect.Float64:
		return &schemaNode{Type: "number"}, nil
	case reflect.String:
		return &schemaNode{Type: "string"}, nil
	case reflect.Slice, reflect.Array:
		node := &schemaNode{Type: "array", Items: &schemaNode{}}
		if rv.Len() > 0 {
			item, err := nodeFromValue(rv.Index(0).Interface())
			if err != nil {
				return nil, err
			}
			node.Items = item
		}
		return node, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("openapi: map key type %s unsupported", rv.Type().Key())
		}
		node := newObjectNode()
		iter := rv.MapRange()
		for iter.Next() {
			child, err := nodeFromValue(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			node.Properties[iter.Key().String()] = child
		}
		return node, nil
	}
	return nil, fmt.Errorf("openapi: unsupported snapshot value %s", rv.Type())
}

func (n *schemaNode) referenceSchema() map[string]any {
	result := map[string]any{
		"allOf": []any{
			map[string]any{"$ref": componentRef(ResourceReferenceComponent)},
		},
	}
	if n.DeclaredType != "" {
		result[DeclaredTypeExtension] = n.DeclaredType
	}
	if n.Strategy != "" {
		result[StrategyExtension] = n.Strategy
	}
	return result
}

func (n *schemaNode) baseMap() map[string]any {
	if n.Reference {
		return n.referenceSchema()
	}
	result := map[string]any{}
	if n.Type != "" {
		result["type"] = n.Type
	}
	if n.Format != "" {
		result["format"] = n.Format
	}
	return result
}

func (n *schemaNode) inlineOpenAPI() map[string]any {
	result := n.baseMap()
	if n.Reference {
		return result
	}
	if len(n.Properties) > 0 || n.Type == "object" {
		props := make(map[string]any, len(n.Properties))
		for _, name := range n.propertyNames() {
			props[name] = n.Properties[name].inlineOpenAPI()
		}
		result["properties"] = props
	}
	if n.Items != nil {
		result["items"] = n.Items.inlineOpenAPI()
	}
	return result
}

func (n *schemaNode) propertyNames() []string {
	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digest fingerprints the inline schema so identical shapes share a component.
func (n *schemaNode) Digest() string {
	if n == nil || n.Reference {
		return ""
	}
	raw, err := json.Marshal(n.inlineOpenAPI())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func componentRef(name string) string {
	return "#/components/schemas/" + name
}

func resourceReferenceSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{reference.FieldStrategy, reference.FieldKey, reference.FieldTypeName},
		"properties": map[string]any{
			reference.FieldStrategy: map[string]any{
				"type": "string",
				"enum": []any{
					reference.StrategyRegistry.String(),
					reference.StrategyPath.String(),
					reference.StrategyAddressable.String(),
				},
			},
			reference.FieldKey:      map[string]any{"type": "string", "minLength": 1},
			reference.FieldTypeName: map[string]any{"type": "string", "minLength": 1},
		},
		"additionalProperties": false,
	}
}

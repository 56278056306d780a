package datastore

import (
	"fmt"

	"github.com/goliatone/go-datastore/pkg/reference"
)

// FieldDescriptor describes a path and the inferred type.
type FieldDescriptor struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// DefaultSchemaGenerator returns the built-in descriptor-based schema generator.
func DefaultSchemaGenerator() SchemaGenerator {
	return descriptorGenerator{}
}

// Schema describes the effective shape of the container using the configured
// schema generator.
func (c *Container) Schema() (SchemaDocument, error) {
	generator := c.cfg.schemaGenerator
	if generator == nil {
		generator = DefaultSchemaGenerator()
	}
	return generator.Generate(c.Snapshot())
}

// Fields returns the flattened field descriptors of the container.
func (c *Container) Fields() []FieldDescriptor {
	fields := deriveFieldDescriptors(c.Snapshot(), "")
	if fields == nil {
		return []FieldDescriptor{}
	}
	return fields
}

type descriptorGenerator struct{}

func (descriptorGenerator) Generate(snapshot map[string]any) (SchemaDocument, error) {
	var descriptors []FieldDescriptor
	if snapshot != nil {
		descriptors = deriveFieldDescriptors(snapshot, "")
	}
	if descriptors == nil {
		descriptors = []FieldDescriptor{}
	}
	return SchemaDocument{
		Format:   SchemaFormatDescriptors,
		Document: descriptors,
	}, nil
}

func deriveFieldDescriptors(value any, prefix string) []FieldDescriptor {
	if value == nil {
		return nil
	}

	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix == "" {
				return nil
			}
			return []FieldDescriptor{{
				Path: prefix,
				Type: "map[string]any",
			}}
		}
		keys := sortedKeys(typed)
		var fields []FieldDescriptor
		for _, key := range keys {
			fields = append(fields, deriveFieldDescriptors(typed[key], joinPath(prefix, key))...)
		}
		return fields
	case []any:
		elementType := "any"
		if len(typed) > 0 {
			elementType = typeName(typed[0])
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: "[]" + elementType,
		}}
	default:
		if prefix == "" {
			return nil
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: typeName(typed),
		}}
	}
}

func typeName(value any) string {
	switch typed := value.(type) {
	case nil:
		return "nil"
	case reference.Descriptor:
		return "reference<" + typed.TypeName + ">"
	case map[string]any:
		return "map[string]any"
	default:
		return fmt.Sprintf("%T", value)
	}
}

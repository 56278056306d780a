package openapi

import (
	datastore "github.com/goliatone/go-datastore"
)

type generator struct {
	config generatorConfig
}

// NewGenerator constructs a schema generator that renders container snapshots
// as OpenAPI documents.
func NewGenerator(opts ...GeneratorOption) datastore.SchemaGenerator {
	cfg := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return generator{config: cfg}
}

// Option wires the OpenAPI generator into a container.
func Option(opts ...GeneratorOption) datastore.Option {
	return datastore.WithSchemaGenerator(NewGenerator(opts...))
}

func (g generator) Generate(snapshot map[string]any) (datastore.SchemaDocument, error) {
	var root *schemaNode
	if snapshot == nil {
		root = newObjectNode()
	} else {
		node, err := nodeFromValue(snapshot)
		if err != nil {
			return datastore.SchemaDocument{}, err
		}
		root = node
	}

	document, err := newOpenAPIDocumentBuilder(g.config, newComponentRegistry(), root).build()
	if err != nil {
		return datastore.SchemaDocument{}, err
	}
	return datastore.SchemaDocument{
		Format:   datastore.SchemaFormatOpenAPI,
		Document: document,
	}, nil
}

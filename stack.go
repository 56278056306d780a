package datastore

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goliatone/go-datastore/layering"
)

const (
	// Recommended priorities for common layering patterns. Higher numbers win.
	LayerPriorityDefaults = 100
	LayerPriorityTemplate = 200
	LayerPriorityInstance = 300
)

// Layer pairs a named precedence level with the record captured for it.
type Layer struct {
	Name     string
	Priority int
	Record   map[string]any
}

// NewLayer constructs a Layer holding a deep copy of record.
func NewLayer(name string, priority int, record map[string]any) Layer {
	return Layer{
		Name:     name,
		Priority: priority,
		Record:   layering.Clone(record),
	}
}

var (
	// ErrLayerNameRequired indicates a missing layer name.
	ErrLayerNameRequired = errors.New("datastore: layer name must be provided")
	// ErrDuplicateLayerName indicates Stack construction received multiple
	// layers with the same name.
	ErrDuplicateLayerName = errors.New("datastore: layer names must be unique")
	// ErrPriorityOrder indicates Stack construction detected duplicate
	// priorities.
	ErrPriorityOrder = errors.New("datastore: layer priorities must be strictly ordered")
)

// Stack is an immutable list of layers ordered from strongest to weakest.
type Stack struct {
	layers []Layer
}

// NewStack validates and sorts the supplied layers so that the strongest
// (highest priority) is first. Records are deep copied.
func NewStack(layers ...Layer) (*Stack, error) {
	if len(layers) == 0 {
		return &Stack{}, nil
	}

	seenNames := make(map[string]struct{}, len(layers))
	copied := make([]Layer, len(layers))
	for i, layer := range layers {
		layer := cloneLayer(layer)
		if layer.Name == "" {
			return nil, ErrLayerNameRequired
		}
		if _, ok := seenNames[layer.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLayerName, layer.Name)
		}
		seenNames[layer.Name] = struct{}{}
		copied[i] = layer
	}

	sort.Slice(copied, func(i, j int) bool {
		if copied[i].Priority == copied[j].Priority {
			return copied[i].Name < copied[j].Name
		}
		return copied[i].Priority > copied[j].Priority
	})

	for i := 1; i < len(copied); i++ {
		if copied[i-1].Priority <= copied[i].Priority {
			return nil, fmt.Errorf("%w: %d", ErrPriorityOrder, copied[i].Priority)
		}
	}

	return &Stack{layers: copied}, nil
}

// Layers returns a copy of the layers, strongest first.
func (s *Stack) Layers() []Layer {
	if s == nil || len(s.layers) == 0 {
		return nil
	}
	out := make([]Layer, len(s.layers))
	for i := range s.layers {
		out[i] = cloneLayer(s.layers[i])
	}
	return out
}

// Len returns the number of layers in the stack.
func (s *Stack) Len() int {
	if s == nil {
		return 0
	}
	return len(s.layers)
}

// Build turns the stack into a template chain: the weakest layer becomes the
// root template and every stronger layer an instance of the one below it.
// The returned container is the strongest layer. opts apply to every layer;
// each layer is named after its Layer.Name.
func (s *Stack) Build(opts ...Option) (*Container, error) {
	if s == nil || len(s.layers) == 0 {
		return nil, fmt.Errorf("datastore: stack must include at least one layer")
	}
	var current *Container
	for i := len(s.layers) - 1; i >= 0; i-- {
		layer := s.layers[i]
		layerOpts := append(append([]Option(nil), opts...), WithName(layer.Name))
		var next *Container
		if current == nil {
			next = New(layerOpts...)
		} else {
			instance, err := NewInstance(current, layerOpts...)
			if err != nil {
				return nil, err
			}
			next = instance
		}
		if err := next.LoadRecord(layer.Record); err != nil {
			return nil, fmt.Errorf("datastore: load layer %q: %w", layer.Name, err)
		}
		current = next
	}
	return current, nil
}

// Merge collapses the stack into a single record using layering.MergeLayers.
func (s *Stack) Merge() map[string]any {
	if s == nil || len(s.layers) == 0 {
		return map[string]any{}
	}
	records := make([]map[string]any, len(s.layers))
	for i := range s.layers {
		records[i] = s.layers[i].Record
	}
	return layering.MergeLayers(records...)
}

// DefaultsTemplateInstance assembles the canonical three-layer chain
// (defaults, template, instance) and returns the instance container.
func DefaultsTemplateInstance(defaults, template, instance map[string]any, opts ...Option) (*Container, error) {
	stack, err := NewStack(
		NewLayer("instance", LayerPriorityInstance, instance),
		NewLayer("template", LayerPriorityTemplate, template),
		NewLayer("defaults", LayerPriorityDefaults, defaults),
	)
	if err != nil {
		return nil, err
	}
	return stack.Build(opts...)
}

func cloneLayer(layer Layer) Layer {
	return Layer{
		Name:     layer.Name,
		Priority: layer.Priority,
		Record:   layering.Clone(layer.Record),
	}
}

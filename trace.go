package datastore

import (
	"encoding/json"
	"fmt"
)

// Trace captures provenance information for a path lookup across the
// template chain that produced the effective value.
type Trace struct {
	Path   string       `json:"path"`
	Layers []Provenance `json:"layers"`
}

// Provenance details how a single layer contributed to a traced path. Depth
// 0 is the container itself, 1 its template and so on.
type Provenance struct {
	Layer string `json:"layer"`
	Depth int    `json:"depth"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// Trace reports, for every layer of the template chain, whether the layer
// itself holds a value at path. Layers are ordered strongest first.
func (c *Container) Trace(path string) (Trace, error) {
	segments, err := splitPath(path)
	if err != nil {
		return Trace{}, err
	}
	trace := Trace{Path: path}
	depth := 0
	for layer := c; layer != nil; layer = layer.template {
		prov := Provenance{Layer: layerName(layer, depth), Depth: depth, Path: path}
		if value, ok := layer.ownAt(segments); ok {
			prov.Value = snapshotValue(value)
			prov.Found = true
		}
		trace.Layers = append(trace.Layers, prov)
		depth++
	}
	return trace, nil
}

// Winner returns the strongest layer holding a value.
func (t Trace) Winner() (Provenance, bool) {
	for _, prov := range t.Layers {
		if prov.Found {
			return prov, true
		}
	}
	return Provenance{}, false
}

// ownAt walks segments through own entries only, ignoring templates.
func (c *Container) ownAt(segments []string) (any, bool) {
	current := c
	for i, segment := range segments {
		value, ok := current.entries[segment]
		if !ok {
			return nil, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		child, isContainer := value.(*Container)
		if !isContainer {
			return nil, false
		}
		current = child
	}
	return nil, false
}

func layerName(c *Container, depth int) string {
	if name := c.Name(); name != "" {
		return name
	}
	if depth == 0 {
		return "instance"
	}
	return fmt.Sprintf("template[%d]", depth)
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}

// Package layering merges container record trees. Records are the plain
// map/slice/scalar trees produced by (*datastore.Container).Record.
package layering

import "github.com/goliatone/go-datastore/pkg/reference"

// ContainerField wraps a nested container record whose keys would otherwise
// read as a reference descriptor.
const ContainerField = "$container"

// MergeLayers composes records ordered from strongest to weakest, returning a
// new record that keeps explicit entries from stronger layers while filling
// missing keys from weaker ones. Nested records merge key by key; sequences,
// scalars and reference descriptors are replaced as a whole.
func MergeLayers(layers ...map[string]any) map[string]any {
	if len(layers) == 0 {
		return nil
	}
	merged := Clone(layers[len(layers)-1])
	for i := len(layers) - 2; i >= 0; i-- {
		merged = mergeRecord(layers[i], merged)
	}
	return merged
}

// Clone deep copies a record tree.
func Clone(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for key, value := range record {
		out[key] = cloneValue(value)
	}
	return out
}

func mergeRecord(strong, weak map[string]any) map[string]any {
	if strong == nil {
		return Clone(weak)
	}
	out := make(map[string]any, len(strong)+len(weak))
	for key, value := range weak {
		out[key] = cloneValue(value)
	}
	for key, value := range strong {
		existing, ok := out[key]
		if !ok {
			out[key] = cloneValue(value)
			continue
		}
		out[key] = mergeValue(value, existing)
	}
	return out
}

func mergeValue(strong, weak any) any {
	strongRecord, ok := mergeable(strong)
	if !ok {
		return cloneValue(strong)
	}
	weakRecord, ok := mergeable(weak)
	if !ok {
		return cloneValue(strong)
	}
	merged := mergeRecord(strongRecord, weakRecord)
	if isAtomic(merged) {
		return map[string]any{ContainerField: merged}
	}
	return merged
}

// mergeable returns the record of a value merged key by key, unwrapping
// ContainerField.
func mergeable(value any) (map[string]any, bool) {
	record, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	if len(record) == 1 {
		if inner, wrapped := record[ContainerField].(map[string]any); wrapped {
			return inner, true
		}
	}
	if isAtomic(record) {
		return nil, false
	}
	return record, true
}

// isAtomic reports whether a record must be replaced rather than merged.
func isAtomic(record map[string]any) bool {
	_, isRef, _ := reference.DescriptorFromRecord(record)
	return isRef
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return Clone(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}

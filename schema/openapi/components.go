package openapi

import (
	"fmt"
	"regexp"
)

// componentRegistry promotes object and array shapes seen more than once into
// shared components. Static components are always published.
type componentRegistry struct {
	entries   map[string]*componentEntry
	static    map[string]map[string]any
	usedNames map[string]struct{}
}

type componentEntry struct {
	name   string
	schema map[string]any
	count  int
	force  bool
}

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{
		entries:   map[string]*componentEntry{},
		static:    map[string]map[string]any{},
		usedNames: map[string]struct{}{},
	}
}

// define publishes a fixed component under name.
func (r *componentRegistry) define(name string, schema map[string]any) string {
	if _, ok := r.static[name]; !ok {
		r.static[name] = schema
		r.usedNames[name] = struct{}{}
	}
	return componentRef(name)
}

func (r *componentRegistry) register(nameHint string, node *schemaNode) string {
	return r.registerInternal(nameHint, node, false)
}

func (r *componentRegistry) forceReference(name string, node *schemaNode) string {
	return r.registerInternal(name, node, true)
}

func (r *componentRegistry) registerInternal(nameHint string, node *schemaNode, force bool) string {
	digest := node.Digest()
	if digest == "" {
		return ""
	}

	entry, ok := r.entries[digest]
	if !ok {
		entry = &componentEntry{name: r.uniqueName(nameHint)}
		r.entries[digest] = entry
	}
	entry.count++
	if force {
		entry.force = true
	}
	if !entry.published() {
		return ""
	}
	if entry.schema == nil {
		entry.schema = node.inlineOpenAPI()
	}
	return componentRef(entry.name)
}

func (e *componentEntry) published() bool {
	return e.force || e.count >= 2
}

func (r *componentRegistry) uniqueName(name string) string {
	safe := sanitizeComponentName(name)
	if safe == "" {
		safe = "Schema"
	}
	if _, exists := r.usedNames[safe]; !exists {
		r.usedNames[safe] = struct{}{}
		return safe
	}
	for suffix := 1; ; suffix++ {
		candidate := fmt.Sprintf("%s%d", safe, suffix)
		if _, exists := r.usedNames[candidate]; !exists {
			r.usedNames[candidate] = struct{}{}
			return candidate
		}
	}
}

func (r *componentRegistry) componentsMap() map[string]any {
	out := make(map[string]any, len(r.entries)+len(r.static))
	for name, schema := range r.static {
		out[name] = schema
	}
	for _, entry := range r.entries {
		if entry.published() && entry.schema != nil {
			out[entry.name] = entry.schema
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var componentNameRegexp = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitizeComponentName(name string) string {
	name = componentNameRegexp.ReplaceAllString(name, "_")
	name = trimUnderscores(name)
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

func trimUnderscores(input string) string {
	start := 0
	for start < len(input) && input[start] == '_' {
		start++
	}
	end := len(input)
	for end > start && input[end-1] == '_' {
		end--
	}
	return input[start:end]
}

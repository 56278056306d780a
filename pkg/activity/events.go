package activity

import "strings"

// Verbs emitted by the datastore packages.
const (
	VerbValueSet             = "datastore.value.set"
	VerbValueDeleted         = "datastore.value.deleted"
	VerbRegistryRegistered   = "datastore.registry.registered"
	VerbRegistryRemoved      = "datastore.registry.removed"
	VerbReferenceUnresolved  = "datastore.reference.unresolved"
	ObjectTypeContainer      = "container"
	ObjectTypeRegistryEntry  = "registry.entry"
	ObjectTypeResourceRecord = "reference"
)

// ValueInput describes a container slot mutation.
type ValueInput struct {
	ActorID   string
	Container string
	Path      string
	Kind      string
	Metadata  map[string]any
}

// RegistryInput describes a registry mutation.
type RegistryInput struct {
	Key      string
	TypeName string
	Metadata map[string]any
}

// ReferenceInput describes a reference resolution outcome.
type ReferenceInput struct {
	Strategy string
	Key      string
	TypeName string
	Reason   string
}

// BuildValueSetEvent constructs an event for a container slot write.
func BuildValueSetEvent(input ValueInput) Event {
	return buildValueEvent(VerbValueSet, input)
}

// BuildValueDeletedEvent constructs an event for a container slot removal.
func BuildValueDeletedEvent(input ValueInput) Event {
	return buildValueEvent(VerbValueDeleted, input)
}

func buildValueEvent(verb string, input ValueInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.Kind != "" {
		metadata = ensureMetadata(metadata)
		metadata["kind"] = input.Kind
	}
	objectID := strings.TrimSpace(input.Container)
	if objectID == "" {
		objectID = ObjectTypeContainer
	}
	return Event{
		Verb:       verb,
		ActorID:    input.ActorID,
		ObjectType: ObjectTypeContainer,
		ObjectID:   objectID,
		Path:       input.Path,
		Metadata:   metadata,
	}
}

// BuildRegistryRegisteredEvent constructs an event for RegisterObject.
func BuildRegistryRegisteredEvent(input RegistryInput) Event {
	return buildRegistryEvent(VerbRegistryRegistered, input)
}

// BuildRegistryRemovedEvent constructs an event for RemoveObject.
func BuildRegistryRemovedEvent(input RegistryInput) Event {
	return buildRegistryEvent(VerbRegistryRemoved, input)
}

func buildRegistryEvent(verb string, input RegistryInput) Event {
	metadata := cloneMap(input.Metadata)
	if input.TypeName != "" {
		metadata = ensureMetadata(metadata)
		metadata["type_name"] = input.TypeName
	}
	return Event{
		Verb:       verb,
		ObjectType: ObjectTypeRegistryEntry,
		ObjectID:   input.Key,
		Strategy:   "registry",
		Metadata:   metadata,
	}
}

// BuildReferenceUnresolvedEvent constructs an event for a failed resolution.
func BuildReferenceUnresolvedEvent(input ReferenceInput) Event {
	var metadata map[string]any
	if input.TypeName != "" {
		metadata = ensureMetadata(metadata)
		metadata["type_name"] = input.TypeName
	}
	if input.Reason != "" {
		metadata = ensureMetadata(metadata)
		metadata["reason"] = input.Reason
	}
	return Event{
		Verb:       VerbReferenceUnresolved,
		ObjectType: ObjectTypeResourceRecord,
		ObjectID:   input.Key,
		Strategy:   input.Strategy,
		Metadata:   metadata,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}

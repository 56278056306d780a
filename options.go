package datastore

import (
	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/logging"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// Option configures a Container. Children created through paths or
// GetOrCreateContainer inherit the configuration of their parent.
type Option func(*containerConfig)

type containerConfig struct {
	name            string
	resolver        *reference.Resolver
	policy          reference.Policy
	logger          logging.Logger
	activityHooks   activity.Hooks
	actorID         string
	evaluator       Evaluator
	programCache    ProgramCache
	functions       *FunctionRegistry
	schemaGenerator SchemaGenerator
}

func applyOptions(opts []Option) *containerConfig {
	cfg := &containerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithName labels the container. Names show up in traces and activity events.
func WithName(name string) Option {
	return func(cfg *containerConfig) {
		cfg.name = name
	}
}

// WithResolver sets the resolver used to wrap handles and resolve references.
// Containers without one use reference.DefaultResolver.
func WithResolver(resolver *reference.Resolver) Option {
	return func(cfg *containerConfig) {
		cfg.resolver = resolver
	}
}

// WithStrategyPolicy sets the policy choosing the storage strategy and key
// for handles assigned into the container.
func WithStrategyPolicy(policy reference.Policy) Option {
	return func(cfg *containerConfig) {
		cfg.policy = policy
	}
}

// WithLogger attaches a logger.
func WithLogger(logger logging.Logger) Option {
	return func(cfg *containerConfig) {
		cfg.logger = logger
	}
}

// WithActivityHooks attaches activity hooks notified on writes and deletes.
// Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := hooks.Clone()
	return func(cfg *containerConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActor records actorID on emitted activity events.
func WithActor(actorID string) Option {
	return func(cfg *containerConfig) {
		cfg.actorID = actorID
	}
}

// WithEvaluator configures the evaluator used by Evaluate.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *containerConfig) {
		cfg.evaluator = e
	}
}

// WithSchemaGenerator configures a custom schema generator implementation.
func WithSchemaGenerator(generator SchemaGenerator) Option {
	return func(cfg *containerConfig) {
		cfg.schemaGenerator = generator
	}
}

func (cfg *containerConfig) resolverOrDefault() *reference.Resolver {
	if cfg.resolver != nil {
		return cfg.resolver
	}
	return reference.DefaultResolver()
}

func (cfg *containerConfig) policyOrDefault() reference.Policy {
	if cfg.policy != nil {
		return cfg.policy
	}
	return reference.DefaultPolicy()
}

func (cfg *containerConfig) log() logging.Logger {
	return logging.OrNop(cfg.logger)
}

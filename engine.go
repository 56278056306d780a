package datastore

import (
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// EvaluatorOption configures any of the bundled evaluators.
type EvaluatorOption func(*engineConfig)

type engineConfig struct {
	cache     ProgramCache
	functions *FunctionRegistry
}

// EvaluatorCache stores compiled programs in cache, keyed by expression.
// Engines share a cache safely only when their keys cannot collide, so give
// each engine its own.
func EvaluatorCache(cache ProgramCache) EvaluatorOption {
	return func(cfg *engineConfig) {
		cfg.cache = cache
	}
}

// EvaluatorFunctions exposes the functions in registry to every expression
// the evaluator runs. Container functions take precedence.
func EvaluatorFunctions(registry *FunctionRegistry) EvaluatorOption {
	return func(cfg *engineConfig) {
		cfg.functions = registry.Clone()
	}
}

func newEngineConfig(opts []EvaluatorOption) engineConfig {
	cfg := engineConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (cfg engineConfig) cached(expression string) (any, bool) {
	if cfg.cache == nil {
		return nil, false
	}
	return cfg.cache.Get(expression)
}

func (cfg engineConfig) store(expression string, program any) {
	if cfg.cache != nil {
		cfg.cache.Set(expression, program)
	}
}

func requireExpression(expression string) error {
	if expression == "" {
		return errdefs.InvalidArgument("expression must not be empty")
	}
	return nil
}

// ruleVariables builds the variables an expression sees: the snapshot with
// reference descriptors turned into their records, then the reserved
// variables.
func ruleVariables(ctx RuleContext) map[string]any {
	vars := make(map[string]any, len(ctx.Snapshot)+len(reservedVariables))
	for key, value := range ctx.Snapshot {
		if isReservedName(key) {
			continue
		}
		vars[key] = descriptorRecords(value)
	}
	vars["now"] = ctx.timestamp()
	vars["args"] = ctx.Args
	vars["metadata"] = ctx.Metadata
	vars["layer"] = ctx.Layer
	return vars
}

func descriptorRecords(value any) any {
	switch typed := value.(type) {
	case reference.Descriptor:
		return typed.Record()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = descriptorRecords(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = descriptorRecords(item)
		}
		return out
	default:
		return typed
	}
}

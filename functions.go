package datastore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/logging"
)

// Function is a callable exposed to expressions.
type Function func(args ...any) (any, error)

// Functions every engine provides when a rule is evaluated through a
// container. Paths are dotted container paths.
const (
	// FuncRef returns the descriptor record of the reference at a path, or
	// null when the path holds no reference.
	FuncRef = "ref"
	// FuncRegistered reports whether a key is present in the registry of
	// the container's resolver.
	FuncRegistered = "registered"
	// FuncResolves reports whether the reference at a path resolves.
	FuncResolves = "resolves"
	// FuncKind returns the kind of the value at a path, or "" when absent.
	FuncKind = "kind"
	// FuncCall invokes a registered function by name.
	FuncCall = "call"
)

var (
	// ErrUnknownFunction reports a call to a function nobody registered.
	ErrUnknownFunction = errors.New("datastore: unknown function")
	// ErrUnboundRule reports a container builtin used by a rule that was
	// not evaluated through a container.
	ErrUnboundRule = errors.New("datastore: rule is not bound to a container")
)

var functionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var builtinNames = map[string]struct{}{
	FuncRef: {}, FuncRegistered: {}, FuncResolves: {}, FuncKind: {}, FuncCall: {},
}

// FunctionRegistry holds user functions callable from expressions, either by
// name or through call("name", ...). It is safe for concurrent use.
type FunctionRegistry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]Function)}
}

// Register adds fn under name. Names are case-sensitive identifiers and
// must not shadow a builtin or an evaluator variable.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	switch {
	case fn == nil:
		return errdefs.InvalidArgument("function %q is nil", name)
	case !functionName.MatchString(name):
		return errdefs.InvalidArgument("function name %q is not an identifier", name)
	case isReservedName(name):
		return errdefs.InvalidArgument("function name %q is reserved", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs == nil {
		r.funcs = make(map[string]Function)
	}
	if _, exists := r.funcs[name]; exists {
		return errdefs.InvalidArgument("function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// Call runs the function registered under name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	fn, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, name)
	}
	return fn(args...)
}

// Names returns the registered names, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.funcs)
}

// Clone returns an independent registry holding the same functions.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewFunctionRegistry()
	for name, fn := range r.funcs {
		clone.funcs[name] = fn
	}
	return clone
}

func (r *FunctionRegistry) lookup(name string) (Function, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// WithFunctionRegistry makes the functions in registry callable from every
// expression evaluated against the container, whatever the engine.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *containerConfig) {
		cfg.functions = registry.Clone()
	}
}

// WithCustomFunction registers fn under name for the container. Invalid
// names are logged and ignored.
func WithCustomFunction(name string, fn Function) Option {
	return func(cfg *containerConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		if err := cfg.functions.Register(name, fn); err != nil {
			cfg.log().Log(logging.Event{
				Level:     logging.LevelWarn,
				Component: logComponent,
				Message:   "custom function rejected",
				Fields:    map[string]any{"function": name},
				Err:       err,
			})
		}
	}
}

// functionSet is the flattened view of every function a single evaluation
// can call: container builtins, engine functions and container functions.
type functionSet map[string]Function

// bindFunctions builds the function set for one evaluation. Container
// functions win over engine functions of the same name.
func bindFunctions(ctx RuleContext, engine *FunctionRegistry) functionSet {
	set := make(functionSet)
	for _, source := range []*FunctionRegistry{engine, ctx.scope.functionRegistry()} {
		if source == nil {
			continue
		}
		source.mu.RLock()
		for name, fn := range source.funcs {
			set[name] = fn
		}
		source.mu.RUnlock()
	}
	b := builtins{scope: ctx.scope, ctx: ctx.context()}
	set[FuncRef] = b.ref
	set[FuncRegistered] = b.registered
	set[FuncResolves] = b.resolves
	set[FuncKind] = b.kind
	set[FuncCall] = set.call
	return set
}

func (s functionSet) call(args ...any) (any, error) {
	if len(args) == 0 {
		return nil, errdefs.InvalidArgument("%s requires a function name", FuncCall)
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, errdefs.InvalidArgument("%s name must be a string, got %T", FuncCall, args[0])
	}
	fn, ok := s[name]
	if !ok || name == FuncCall {
		return nil, fmt.Errorf("%w %q", ErrUnknownFunction, name)
	}
	return fn(args[1:]...)
}

type builtins struct {
	scope *Container
	ctx   context.Context
}

func (b builtins) ref(args ...any) (any, error) {
	path, err := b.pathArg(FuncRef, args)
	if err != nil {
		return nil, err
	}
	ref, ok := b.scope.PathReference(path)
	if !ok {
		return nil, nil
	}
	return ref.Descriptor().Record(), nil
}

func (b builtins) registered(args ...any) (any, error) {
	key, err := b.pathArg(FuncRegistered, args)
	if err != nil {
		return nil, err
	}
	reg, err := b.scope.Resolver().RegistryContext(b.ctx)
	if err != nil {
		return false, nil
	}
	return reg.ContainsKey(key), nil
}

func (b builtins) resolves(args ...any) (any, error) {
	path, err := b.pathArg(FuncResolves, args)
	if err != nil {
		return nil, err
	}
	ref, ok := b.scope.PathReference(path)
	if !ok {
		return false, nil
	}
	return b.scope.handleAt(b.ctx, path, ref.Descriptor()) != nil, nil
}

func (b builtins) kind(args ...any) (any, error) {
	path, err := b.pathArg(FuncKind, args)
	if err != nil {
		return nil, err
	}
	parent, key, err := b.scope.walk(path)
	if err != nil {
		return "", nil
	}
	kind, ok := parent.Kind(key)
	if !ok {
		return "", nil
	}
	return kind.String(), nil
}

func (b builtins) pathArg(name string, args []any) (string, error) {
	if b.scope == nil {
		return "", fmt.Errorf("%w: %s", ErrUnboundRule, name)
	}
	if len(args) != 1 {
		return "", errdefs.InvalidArgument("%s expects 1 argument, got %d", name, len(args))
	}
	path, ok := args[0].(string)
	if !ok || path == "" {
		return "", errdefs.InvalidArgument("%s argument must be a non-empty string, got %v", name, args[0])
	}
	return path, nil
}

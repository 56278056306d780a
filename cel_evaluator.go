package datastore

import (
	"fmt"
	"sync"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

const engineCEL = "cel"

// celEvaluator runs expressions with cel-go. Container keys are declared as
// dyn variables from the snapshot seen at first compile.
type celEvaluator struct {
	cfg engineConfig
}

// NewCELEvaluator returns an evaluator backed by cel-go.
func NewCELEvaluator(opts ...EvaluatorOption) Evaluator {
	return &celEvaluator{cfg: newEngineConfig(opts)}
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	ctx = ctx.withDefaults()
	program, err := e.program(expression, ctx.Snapshot)
	if err != nil {
		return nil, err
	}
	return program.eval(ctx, expression, e.cfg.functions)
}

// Compile checks the syntax of expression. Type checking waits for the
// first evaluation, when the container keys are known.
func (e *celEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if err := requireExpression(expression); err != nil {
		return nil, err
	}
	env, err := celgo.NewEnv()
	if err != nil {
		return nil, evaluationFailed(engineCEL, PhaseCompile, expression, err)
	}
	if _, issues := env.Parse(expression); issues != nil && issues.Err() != nil {
		return nil, evaluationFailed(engineCEL, PhaseCompile, expression, issues.Err())
	}
	return compiledRule(func(ctx RuleContext) (any, error) {
		return e.Evaluate(ctx, expression)
	}), nil
}

func (e *celEvaluator) program(expression string, snapshot map[string]any) (*celProgram, error) {
	if err := requireExpression(expression); err != nil {
		return nil, err
	}
	if cached, ok := e.cfg.cached(expression); ok {
		if program, ok := cached.(*celProgram); ok {
			return program, nil
		}
	}
	bundle := &celProgram{}
	env, err := celgo.NewEnv(bundle.declarations(snapshot)...)
	if err != nil {
		return nil, evaluationFailed(engineCEL, PhaseCompile, expression, err)
	}
	checked, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, evaluationFailed(engineCEL, PhaseCompile, expression, issues.Err())
	}
	bundle.program, err = env.Program(checked)
	if err != nil {
		return nil, evaluationFailed(engineCEL, PhaseCompile, expression, err)
	}
	e.cfg.store(expression, bundle)
	return bundle, nil
}

// celProgram pairs a program with the function set its bindings dispatch
// to. Bindings are fixed when the program is built, so each evaluation
// installs its own set under mu.
type celProgram struct {
	mu        sync.Mutex
	functions functionSet
	program   celgo.Program
}

func (p *celProgram) eval(ctx RuleContext, expression string, engine *FunctionRegistry) (any, error) {
	vars := ruleVariables(ctx)

	p.mu.Lock()
	p.functions = bindFunctions(ctx, engine)
	out, _, err := p.program.Eval(vars)
	p.functions = nil
	p.mu.Unlock()

	if err != nil {
		return nil, evaluationFailed(engineCEL, PhaseRun, expression, err)
	}
	return out.Value(), nil
}

func (p *celProgram) declarations(snapshot map[string]any) []celgo.EnvOption {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
		celgo.Variable("layer", celgo.StringType),
		p.pathFunction(FuncRef, celgo.DynType),
		p.pathFunction(FuncRegistered, celgo.BoolType),
		p.pathFunction(FuncResolves, celgo.BoolType),
		p.pathFunction(FuncKind, celgo.StringType),
		celgo.Function(FuncCall,
			celgo.Overload("datastore_call_string",
				[]*celgo.Type{celgo.StringType}, celgo.DynType,
				celgo.UnaryBinding(func(name ref.Val) ref.Val { return p.invoke(FuncCall, name) })),
			celgo.Overload("datastore_call_string_dyn",
				[]*celgo.Type{celgo.StringType, celgo.DynType}, celgo.DynType,
				celgo.BinaryBinding(func(name, arg ref.Val) ref.Val { return p.invoke(FuncCall, name, arg) })),
			celgo.Overload("datastore_call_string_dyn_dyn",
				[]*celgo.Type{celgo.StringType, celgo.DynType, celgo.DynType}, celgo.DynType,
				celgo.FunctionBinding(func(args ...ref.Val) ref.Val { return p.invoke(FuncCall, args...) })),
		),
	}
	for key := range snapshot {
		if isReservedName(key) {
			continue
		}
		opts = append(opts, celgo.Variable(key, celgo.DynType))
	}
	return opts
}

// pathFunction declares a builtin taking one string argument.
func (p *celProgram) pathFunction(name string, result *celgo.Type) celgo.EnvOption {
	return celgo.Function(name,
		celgo.Overload(fmt.Sprintf("datastore_%s_string", name),
			[]*celgo.Type{celgo.StringType}, result,
			celgo.UnaryBinding(func(arg ref.Val) ref.Val { return p.invoke(name, arg) })))
}

func (p *celProgram) invoke(name string, args ...ref.Val) ref.Val {
	fn, ok := p.functions[name]
	if !ok {
		return types.NewErr("%v %q", ErrUnknownFunction, name)
	}
	native := make([]any, len(args))
	for i, arg := range args {
		native[i] = arg.Value()
	}
	result, err := fn(native...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

//go:build js_eval

package datastore

import (
	"github.com/dop251/goja"
)

const engineJS = "js"

// jsEvaluator runs expressions as JavaScript with goja. Each evaluation gets
// a fresh runtime so rules cannot leak globals into each other.
type jsEvaluator struct {
	cfg engineConfig
}

// NewJSEvaluator returns an evaluator backed by goja. It is only available
// with the js_eval build tag.
func NewJSEvaluator(opts ...EvaluatorOption) Evaluator {
	return &jsEvaluator{cfg: newEngineConfig(opts)}
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, expression, program)
}

func (e *jsEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return compiledRule(func(ctx RuleContext) (any, error) {
		return e.run(ctx, expression, program)
	}), nil
}

func (e *jsEvaluator) program(expression string) (*goja.Program, error) {
	if err := requireExpression(expression); err != nil {
		return nil, err
	}
	if cached, ok := e.cfg.cached(expression); ok {
		if program, ok := cached.(*goja.Program); ok {
			return program, nil
		}
	}
	program, err := goja.Compile("rule", "(function(){ return ("+expression+"); })()", true)
	if err != nil {
		return nil, evaluationFailed(engineJS, PhaseCompile, expression, err)
	}
	e.cfg.store(expression, program)
	return program, nil
}

func (e *jsEvaluator) run(ctx RuleContext, expression string, program *goja.Program) (any, error) {
	ctx = ctx.withDefaults()
	vm := goja.New()
	for name, value := range ruleVariables(ctx) {
		if err := vm.Set(name, value); err != nil {
			return nil, evaluationFailed(engineJS, PhaseRun, expression, err)
		}
	}
	for name, fn := range bindFunctions(ctx, e.cfg.functions) {
		if err := vm.Set(name, jsFunction(vm, fn)); err != nil {
			return nil, evaluationFailed(engineJS, PhaseRun, expression, err)
		}
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, evaluationFailed(engineJS, PhaseRun, expression, err)
	}
	return value.Export(), nil
}

// jsFunction exposes fn to scripts, turning its error into a thrown
// exception.
func jsFunction(vm *goja.Runtime, fn Function) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		result, err := fn(args...)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(result)
	}
}

func jsEvaluatorAvailable() bool {
	return true
}

func isJSEvaluator(e Evaluator) bool {
	_, ok := e.(*jsEvaluator)
	return ok
}

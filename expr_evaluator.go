package datastore

import (
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

const engineExpr = "expr"

// exprEvaluator runs expressions with github.com/expr-lang/expr. Functions
// are injected into the runtime environment, so one compiled program serves
// every container.
type exprEvaluator struct {
	cfg engineConfig
}

// NewExprEvaluator returns the default evaluator, backed by expr-lang/expr.
func NewExprEvaluator(opts ...EvaluatorOption) Evaluator {
	return &exprEvaluator{cfg: newEngineConfig(opts)}
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, expression, program)
}

func (e *exprEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	return compiledRule(func(ctx RuleContext) (any, error) {
		return e.run(ctx, expression, program)
	}), nil
}

func (e *exprEvaluator) program(expression string) (*exprvm.Program, error) {
	if err := requireExpression(expression); err != nil {
		return nil, err
	}
	if cached, ok := e.cfg.cached(expression); ok {
		if program, ok := cached.(*exprvm.Program); ok {
			return program, nil
		}
	}
	program, err := exprlang.Compile(expression, exprlang.Env(map[string]any{}), exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, evaluationFailed(engineExpr, PhaseCompile, expression, err)
	}
	e.cfg.store(expression, program)
	return program, nil
}

func (e *exprEvaluator) run(ctx RuleContext, expression string, program *exprvm.Program) (any, error) {
	ctx = ctx.withDefaults()
	env := ruleVariables(ctx)
	for name, fn := range bindFunctions(ctx, e.cfg.functions) {
		env[name] = fn
	}
	result, err := exprlang.Run(program, env)
	if err != nil {
		return nil, evaluationFailed(engineExpr, PhaseRun, expression, err)
	}
	return result, nil
}

// compiledRule adapts a closure to CompiledRule.
type compiledRule func(RuleContext) (any, error)

func (f compiledRule) Evaluate(ctx RuleContext) (any, error) {
	return f(ctx)
}

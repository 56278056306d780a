package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-datastore/pkg/logging"
)

var ErrNoEvaluator = errors.New("datastore: evaluator not configured")

// Evaluate runs expr against the container snapshot using the configured
// evaluator (expr-lang by default). Top-level keys are exposed as variables
// and references appear as their descriptor records, so texture.key reads
// the reference key. The functions ref, registered, resolves, kind and call
// are bound to c.
func (c *Container) Evaluate(expr string) (Response[any], error) {
	return c.EvaluateContext(context.Background(), RuleContext{}, expr)
}

// EvaluateWith runs expr using rule, falling back to the container snapshot
// when rule.Snapshot is nil.
func (c *Container) EvaluateWith(rule RuleContext, expr string) (Response[any], error) {
	return c.EvaluateContext(context.Background(), rule, expr)
}

// EvaluateContext is EvaluateWith with a context passed to the reference
// resolution done by builtin functions.
func (c *Container) EvaluateContext(ctx context.Context, rule RuleContext, expr string) (Response[any], error) {
	if err := requireExpression(expr); err != nil {
		return Response[any]{}, err
	}
	evaluator, err := c.resolveEvaluator()
	if err != nil {
		return Response[any]{}, err
	}
	if rule.Snapshot == nil {
		rule.Snapshot = c.Snapshot()
	}
	if rule.Layer == "" {
		rule.Layer = layerName(c, 0)
	}
	rule.scope = c
	rule.goctx = ctx
	rule = rule.withDefaults()

	engine := evaluatorEngineName(evaluator)
	start := time.Now()
	value, evalErr := evaluator.Evaluate(rule, expr)
	elapsed := time.Since(start)
	evalErr = attributeEvaluation(evalErr, engine, expr, c.Name(), rule.layerLabel())

	event := logging.Event{
		Level:     logging.LevelDebug,
		Component: logComponent,
		Message:   "expression evaluated",
		Fields: map[string]any{
			"engine":      engine,
			"expr":        expr,
			"layer":       rule.layerLabel(),
			"duration_ms": elapsed.Milliseconds(),
		},
		Err: evalErr,
	}
	if evalErr != nil {
		event.Level = logging.LevelWarn
		event.Message = "expression failed"
	}
	c.cfg.log().Log(event)

	if evalErr != nil {
		return Response[any]{}, evalErr
	}
	return Response[any]{Value: value}, nil
}

// EvaluateAs runs expr and converts the result to T.
func EvaluateAs[T any](c *Container, expr string) (T, error) {
	var zero T
	resp, err := c.Evaluate(expr)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.Value.(T)
	if !ok {
		return zero, fmt.Errorf("datastore: expression %q returned %T", expr, resp.Value)
	}
	return typed, nil
}

// resolveEvaluator returns the configured evaluator, or builds the default
// expr evaluator around the container's program cache. Container functions
// are bound per evaluation, not here.
func (c *Container) resolveEvaluator() (Evaluator, error) {
	if c.cfg.evaluator != nil {
		return c.cfg.evaluator, nil
	}
	var opts []EvaluatorOption
	if c.cfg.programCache != nil {
		opts = append(opts, EvaluatorCache(c.cfg.programCache))
	}
	evaluator := NewExprEvaluator(opts...)
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	c.cfg.evaluator = evaluator
	return evaluator, nil
}

func (c *Container) functionRegistry() *FunctionRegistry {
	if c == nil {
		return nil
	}
	return c.cfg.functions
}

func evaluatorEngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return engineExpr
	case *celEvaluator:
		return engineCEL
	default:
		if jsEvaluatorAvailable() && isJSEvaluator(e) {
			return "js"
		}
		return "custom"
	}
}

package datastore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEvaluation matches every *EvaluationError with errors.Is.
var ErrEvaluation = errors.New("datastore: evaluation failed")

// Phase names the stage in which an expression failed.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRun     Phase = "run"
)

// EvaluationError reports an expression that could not be compiled or run.
// Container and Layer are filled in when the rule ran through a container.
type EvaluationError struct {
	Engine    string
	Phase     Phase
	Expr      string
	Container string
	Layer     string
	Err       error
}

func (e *EvaluationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "datastore: %s %s of %q", e.Engine, e.Phase, e.Expr)
	if e.Container != "" {
		fmt.Fprintf(&b, " in %s", e.Container)
	}
	if e.Layer != "" {
		fmt.Fprintf(&b, " [layer %s]", e.Layer)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrEvaluation.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

func evaluationFailed(engine string, phase Phase, expression string, err error) error {
	var existing *EvaluationError
	if errors.As(err, &existing) {
		return err
	}
	return &EvaluationError{Engine: engine, Phase: phase, Expr: expression, Err: err}
}

// attributeEvaluation ties err to the container that ran the rule. Errors
// raised outside the engines are reported as run failures.
func attributeEvaluation(err error, engine, expression, container, layer string) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		evalErr = &EvaluationError{Engine: engine, Phase: PhaseRun, Expr: expression, Err: err}
	}
	if evalErr.Container == "" {
		evalErr.Container = container
	}
	if evalErr.Layer == "" {
		evalErr.Layer = layer
	}
	return evalErr
}

package datastore

import (
	"errors"
	"strings"
	"testing"

	"github.com/goliatone/go-datastore/pkg/errdefs"
)

func TestAttributeEvaluationWrapsForeignErrors(t *testing.T) {
	base := errors.New("boom")
	err := attributeEvaluation(base, "custom", "flag && missing", "sprites.hero", "hero")

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "custom" || evalErr.Phase != PhaseRun {
		t.Fatalf("unexpected engine/phase %q/%q", evalErr.Engine, evalErr.Phase)
	}
	if evalErr.Container != "sprites.hero" || evalErr.Layer != "hero" {
		t.Fatalf("unexpected attribution %+v", evalErr)
	}
	if !errors.Is(err, base) || !errors.Is(err, ErrEvaluation) {
		t.Fatalf("expected error to match base and ErrEvaluation: %v", err)
	}
}

func TestAttributeEvaluationKeepsEngineDetails(t *testing.T) {
	base := errors.New("unexpected token")
	engineErr := evaluationFailed("cel", PhaseCompile, "speed >", base)

	err := attributeEvaluation(engineErr, "expr", "other", "hero", "template")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T", err)
	}
	if evalErr.Engine != "cel" || evalErr.Phase != PhaseCompile || evalErr.Expr != "speed >" {
		t.Fatalf("engine details overwritten: %+v", evalErr)
	}
	if evalErr.Container != "hero" || evalErr.Layer != "template" {
		t.Fatalf("attribution missing: %+v", evalErr)
	}
	for _, part := range []string{"cel compile", `"speed >"`, "in hero", "[layer template]", "unexpected token"} {
		if !strings.Contains(err.Error(), part) {
			t.Fatalf("message %q missing %q", err.Error(), part)
		}
	}
}

func TestEvaluationFailedDoesNotRewrap(t *testing.T) {
	first := evaluationFailed("expr", PhaseRun, "a", errdefs.InvalidArgument("bad"))
	second := evaluationFailed("cel", PhaseCompile, "b", first)
	if second != first {
		t.Fatalf("expected existing EvaluationError to pass through")
	}
	if !errors.Is(second, errdefs.ErrInvalidArgument) {
		t.Fatalf("expected cause to stay reachable: %v", second)
	}
}

func TestAttributeEvaluationNil(t *testing.T) {
	if err := attributeEvaluation(nil, "expr", "a", "b", "c"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

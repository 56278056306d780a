package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-datastore/layering"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/logging"
	"github.com/goliatone/go-datastore/pkg/reference"
)

var evaluatorFactories = []struct {
	name string
	new  func(opts ...EvaluatorOption) Evaluator
}{
	{name: "expr", new: NewExprEvaluator},
	{name: "cel", new: NewCELEvaluator},
	{name: "js", new: NewJSEvaluator},
}

// newEvaluator skips the subtest when the engine is not compiled in.
func newEvaluator(t *testing.T, factory func(...EvaluatorOption) Evaluator, opts ...EvaluatorOption) Evaluator {
	t.Helper()
	evaluator := factory(opts...)
	if evaluator == nil {
		t.Skip("evaluator not available in this build")
	}
	return evaluator
}

func TestEvaluateRulesFixture(t *testing.T) {
	type expect struct {
		Value bool   `json:"value"`
		Err   string `json:"err"`
	}
	type testCase struct {
		Name   string         `json:"name"`
		Rule   string         `json:"rule"`
		Input  map[string]any `json:"input"`
		Expect expect         `json:"expect"`
	}
	type fixture struct {
		Description string         `json:"description"`
		Defaults    map[string]any `json:"defaults"`
		Cases       []testCase     `json:"cases"`
	}

	fx := loadFixture[fixture](t, "evaluate_rules.json")

	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			for _, tc := range fx.Cases {
				tc := tc
				t.Run(tc.Name, func(t *testing.T) {
					evaluator := newEvaluator(t, factory.new)
					record := layering.MergeLayers(tc.Input, fx.Defaults)
					c, err := FromRecord(record, WithEvaluator(evaluator))
					if err != nil {
						t.Fatalf("FromRecord: %v", err)
					}

					resp, err := c.Evaluate(tc.Rule)
					if tc.Expect.Err != "" {
						if err == nil || err.Error() != tc.Expect.Err {
							t.Fatalf("expected error %q, got %v", tc.Expect.Err, err)
						}
						return
					}
					if err != nil {
						t.Fatalf("unexpected error from Evaluate: %v", err)
					}
					value, ok := resp.Value.(bool)
					if !ok {
						t.Fatalf("expected bool response, got %T", resp.Value)
					}
					if value != tc.Expect.Value {
						t.Fatalf("expected %v, got %v", tc.Expect.Value, value)
					}
				})
			}
		})
	}
}

func TestEvaluateSeesTemplateValues(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			evaluator := newEvaluator(t, factory.new)
			tmpl := New(WithEvaluator(evaluator))
			_ = tmpl.PathSet("physics.mass", 3)
			inst, _ := NewInstance(tmpl, WithName("enemy-7"))
			_ = inst.PathSet("physics.drag", 0.9)

			resp, err := inst.Evaluate("physics.mass == 3 && physics.drag > 0.5")
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected true, got %v", resp.Value)
			}
		})
	}
}

func TestEvaluateExposesLayerName(t *testing.T) {
	for _, name := range []string{"expr", "cel", "js"} {
		factory := factoryByName(name)
		t.Run(name, func(t *testing.T) {
			evaluator := newEvaluator(t, factory)
			c := New(WithName("hero"), WithEvaluator(evaluator))
			_ = c.Set("layer", "shadowed")
			resp, err := c.Evaluate(`layer == "hero"`)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected reserved layer variable to win, got %v", resp.Value)
			}
		})
	}
}

func TestRuleContextDefaultsNow(t *testing.T) {
	capture := &capturingEvaluator{}
	c := New(WithEvaluator(capture))

	if _, err := c.Evaluate("1 == 1"); err != nil {
		t.Fatalf("unexpected error from Evaluate: %v", err)
	}
	if len(capture.contexts) != 1 {
		t.Fatalf("expected evaluator to receive one context, got %d", len(capture.contexts))
	}
	if capture.contexts[0].Now == nil || capture.contexts[0].Now.IsZero() {
		t.Fatalf("expected Evaluate to default RuleContext.Now")
	}
	if capture.contexts[0].Layer != "instance" {
		t.Fatalf("expected unnamed container to report layer %q, got %q", "instance", capture.contexts[0].Layer)
	}

	capture.reset()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := RuleContext{Snapshot: map[string]any{"flag": true}, Now: &fixed}
	if _, err := c.EvaluateWith(ctx, "flag"); err != nil {
		t.Fatalf("unexpected error from EvaluateWith: %v", err)
	}
	if got := capture.contexts[0]; got.Snapshot["flag"] != true || !got.Now.Equal(fixed) {
		t.Fatalf("expected EvaluateWith to pass context through, got %+v", got)
	}
}

func TestEvaluateWithSnapshotOverride(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			c := New(WithEvaluator(newEvaluator(t, factory.new)))
			_ = c.PathSet("features.newUI.enabled", false)

			ctx := RuleContext{Snapshot: map[string]any{
				"features": map[string]any{"newUI": map[string]any{"enabled": true}},
			}}
			resp, err := c.EvaluateWith(ctx, "features.newUI.enabled")
			if err != nil {
				t.Fatalf("unexpected error from EvaluateWith: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected EvaluateWith to respect snapshot override, got %v", resp.Value)
			}
		})
	}
}

func TestEvaluatorProgramCache(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			cache := &fakeProgramCache{}
			c := New(WithEvaluator(newEvaluator(t, factory.new, EvaluatorCache(cache))))
			_ = c.Set("speed", 3)

			for i := 0; i < 3; i++ {
				if _, err := c.Evaluate("speed > 1"); err != nil {
					t.Fatalf("unexpected error on iteration %d: %v", i, err)
				}
			}
			if cache.misses != 1 || cache.hits != 2 {
				t.Fatalf("expected 1 miss and 2 hits, got misses=%d hits=%d", cache.misses, cache.hits)
			}
		})
	}
}

func TestDefaultEvaluatorUsesContainerCache(t *testing.T) {
	cache := &fakeProgramCache{}
	c := New(WithProgramCache(cache))
	_ = c.Set("speed", 3)
	for i := 0; i < 2; i++ {
		if ok, err := EvaluateAs[bool](c, "speed == 3"); err != nil || !ok {
			t.Fatalf("EvaluateAs = %v, %v", ok, err)
		}
	}
	if cache.misses != 1 || cache.hits != 1 {
		t.Fatalf("expected default expr evaluator to use the cache, misses=%d hits=%d", cache.misses, cache.hits)
	}
	if _, err := EvaluateAs[string](c, "speed == 3"); err == nil {
		t.Fatal("expected EvaluateAs to reject a mismatched result type")
	}
}

func TestEvaluateSeesReferenceDescriptors(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			c, _ := newTestContainer(t, WithEvaluator(newEvaluator(t, factory.new)))
			_ = c.Set("texture", &texture{Name: "hero"})
			_ = c.Set("typeName", reference.TypeNameOf(&texture{}))
			resp, err := c.Evaluate(`texture.key == "tex/hero" && texture.declaredTypeName == typeName && texture.storageStrategy == "registry"`)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if resp.Value != true {
				t.Fatalf("expected descriptor record fields, got %v", resp.Value)
			}
		})
	}
}

func TestContainerBuiltinsAcrossEvaluators(t *testing.T) {
	rules := []struct {
		rule string
		want any
	}{
		{`ref("texture").key == "tex/hero"`, true},
		{`ref("skins.idle").key == "tex/idle"`, true},
		{`registered("tex/hero")`, true},
		{`registered("tex/ghost")`, false},
		{`resolves("texture")`, true},
		{`resolves("skins.idle")`, false},
		{`resolves("speed")`, false},
		{`kind("skins") == "container" && kind("speed") == "primitive" && kind("texture") == "reference"`, true},
		{`kind("missing.path") == ""`, true},
	}
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			c, _ := newTestContainer(t, WithName("hero"), WithEvaluator(newEvaluator(t, factory.new)))
			_ = c.Set("speed", 4)
			_ = c.Set("texture", &texture{Name: "hero"})
			idle := reference.Descriptor{Strategy: reference.StrategyRegistry, Key: "tex/idle", TypeName: reference.TypeNameOf(&texture{})}
			if err := c.PathSet("skins.idle", idle); err != nil {
				t.Fatalf("PathSet: %v", err)
			}
			for _, tc := range rules {
				resp, err := c.Evaluate(tc.rule)
				if err != nil {
					t.Fatalf("%s: %v", tc.rule, err)
				}
				if resp.Value != tc.want {
					t.Fatalf("%s = %v, want %v", tc.rule, resp.Value, tc.want)
				}
			}
		})
	}
}

func TestRefOfNonReferenceIsNil(t *testing.T) {
	c := New()
	_ = c.Set("speed", 4)
	ok, err := EvaluateAs[bool](c, `ref("speed") == nil && ref("missing") == nil`)
	if err != nil || !ok {
		t.Fatalf("expected nil descriptor, got %v, %v", ok, err)
	}
}

func TestInheritedTemplateReferencesVisibleToBuiltins(t *testing.T) {
	tmpl, _ := newTestContainer(t)
	_ = tmpl.PathSet("skins.hero", &texture{Name: "hero"})
	inst, _ := NewInstance(tmpl, WithName("enemy-3"))

	ok, err := EvaluateAs[bool](inst, `ref("skins.hero").key == "tex/hero" && resolves("skins.hero")`)
	if err != nil || !ok {
		t.Fatalf("expected instance to see template reference, got %v, %v", ok, err)
	}
	if inst.HasOwn("skins") {
		t.Fatal("builtins must not attach template containers to the instance")
	}
}

func TestBuiltinsRequireContainer(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			evaluator := newEvaluator(t, factory.new)
			_, err := evaluator.Evaluate(RuleContext{}, `kind("speed") == ""`)
			if !errors.Is(err, ErrUnboundRule) && (err == nil || !strings.Contains(err.Error(), ErrUnboundRule.Error())) {
				t.Fatalf("expected unbound rule error, got %v", err)
			}
		})
	}
}

func TestCompiledRuleRunsAgainstEachContainer(t *testing.T) {
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name, func(t *testing.T) {
			evaluator := newEvaluator(t, factory.new, EvaluatorCache(NewProgramCache()))
			rule, err := evaluator.Compile(`speed > 2`)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			for speed, want := range map[int]bool{1: false, 5: true} {
				c := New(WithEvaluator(evaluator))
				_ = c.Set("speed", speed)
				got, err := rule.Evaluate(RuleContext{Snapshot: c.Snapshot()})
				if err != nil || got != want {
					t.Fatalf("speed=%d: got %v, %v want %v", speed, got, err, want)
				}
			}
			if _, err := evaluator.Compile(`speed >`); !errors.Is(err, ErrEvaluation) {
				t.Fatalf("expected syntax error at compile, got %v", err)
			}
		})
	}
}

func TestEvaluateErrorsAreWrappedAndLogged(t *testing.T) {
	var logged []logging.Event
	logger := logging.LoggerFunc(func(event logging.Event) { logged = append(logged, event) })
	c := New(WithName("hero"), WithLogger(logger))

	_, err := c.Evaluate("speed >")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T %v", err, err)
	}
	if evalErr.Engine != "expr" || evalErr.Phase != PhaseCompile || evalErr.Container != "hero" || evalErr.Layer != "hero" {
		t.Fatalf("unexpected evaluation error fields %+v", evalErr)
	}
	if len(logged) != 1 || logged[0].Level != logging.LevelWarn || logged[0].Fields["engine"] != "expr" {
		t.Fatalf("expected one warn log, got %+v", logged)
	}

	if _, err := c.Evaluate(""); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Fatalf("expected empty expression to be rejected, got %v", err)
	}
}

func TestCustomFunctionsAcrossEvaluators(t *testing.T) {
	equalsIgnoreCase := func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("equalsIgnoreCase expects 2 args")
		}
		a, _ := args[0].(string)
		b, _ := args[1].(string)
		return strings.EqualFold(a, b), nil
	}
	for _, factory := range evaluatorFactories {
		factory := factory
		t.Run(factory.name+"/container", func(t *testing.T) {
			c := New(WithCustomFunction("equalsIgnoreCase", equalsIgnoreCase), WithEvaluator(newEvaluator(t, factory.new)))
			_ = c.Set("name", "HERO")
			resp, err := c.Evaluate(`call("equalsIgnoreCase", name, "hero")`)
			if err != nil || resp.Value != true {
				t.Fatalf("container function = %v, %v", resp.Value, err)
			}
		})
		t.Run(factory.name+"/engine", func(t *testing.T) {
			registry := NewFunctionRegistry()
			if err := registry.Register("equalsIgnoreCase", equalsIgnoreCase); err != nil {
				t.Fatalf("register: %v", err)
			}
			c := New(WithEvaluator(newEvaluator(t, factory.new, EvaluatorFunctions(registry))))
			_ = c.Set("name", "HERO")
			resp, err := c.Evaluate(`call("equalsIgnoreCase", name, "hero")`)
			if err != nil || resp.Value != true {
				t.Fatalf("engine function = %v, %v", resp.Value, err)
			}
			if _, err := c.Evaluate(`call("missing", name)`); err == nil {
				t.Fatal("expected unknown function to fail")
			}
		})
	}
}

func TestContainerFunctionsShadowEngineFunctions(t *testing.T) {
	engine := NewFunctionRegistry()
	_ = engine.Register("origin", func(...any) (any, error) { return "engine", nil })
	c := New(
		WithEvaluator(NewExprEvaluator(EvaluatorFunctions(engine))),
		WithCustomFunction("origin", func(...any) (any, error) { return "container", nil }),
	)
	got, err := EvaluateAs[string](c, `origin()`)
	if err != nil || got != "container" {
		t.Fatalf("origin() = %q, %v", got, err)
	}
}

func TestFunctionRegistryRejectsBadNames(t *testing.T) {
	registry := NewFunctionRegistry()
	noop := func(...any) (any, error) { return nil, nil }
	for _, name := range []string{"", "two words", "ref", "call", "now", "layer"} {
		if err := registry.Register(name, noop); !errors.Is(err, errdefs.ErrInvalidArgument) {
			t.Fatalf("Register(%q) = %v, want invalid argument", name, err)
		}
	}
	if err := registry.Register("Lookup", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register("Lookup", noop); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := registry.Register("lookup", noop); err != nil {
		t.Fatalf("names are case-sensitive, got %v", err)
	}
	if _, err := registry.Call("missing"); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
	if got := registry.Names(); len(got) != 2 || got[0] != "Lookup" || got[1] != "lookup" {
		t.Fatalf("Names = %v", got)
	}
}

func factoryByName(name string) func(...EvaluatorOption) Evaluator {
	for _, factory := range evaluatorFactories {
		if factory.name == name {
			return factory.new
		}
	}
	return nil
}

type capturingEvaluator struct {
	contexts []RuleContext
}

func (c *capturingEvaluator) Evaluate(ctx RuleContext, _ string) (any, error) {
	c.contexts = append(c.contexts, ctx)
	return true, nil
}

func (c *capturingEvaluator) Compile(expr string, _ ...CompileOption) (CompiledRule, error) {
	return compiledRule(func(ctx RuleContext) (any, error) { return c.Evaluate(ctx, expr) }), nil
}

func (c *capturingEvaluator) reset() {
	c.contexts = nil
}

type fakeProgramCache struct {
	store  map[string]any
	hits   int
	misses int
}

func (c *fakeProgramCache) Get(key string) (any, bool) {
	if c.store == nil {
		c.store = map[string]any{}
	}
	value, ok := c.store[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return value, ok
}

func (c *fakeProgramCache) Set(key string, value any) {
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = value
}

func loadFixture[T any](t *testing.T, name string) T {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to resolve caller for fixture %q", name)
	}
	path := filepath.Join(filepath.Dir(file), "testdata", name)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %q: %v", path, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("failed to unmarshal fixture %q: %v", path, err)
	}
	return out
}

package reference

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/locator"
	"github.com/goliatone/go-datastore/pkg/logging"
	"github.com/goliatone/go-datastore/pkg/registry"
)

type texture struct{ Name string }

type mesh struct{ Verts int }

func newTestResolver(t *testing.T, opts ...Option) (*Resolver, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	loc := locator.New()
	locator.Provide(loc, reg)
	return NewResolver(append([]Option{WithLocator(loc)}, opts...)...), reg
}

func TestStrategyTextRoundTrip(t *testing.T) {
	for _, s := range []Strategy{StrategyRegistry, StrategyPath, StrategyAddressable} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", s, err)
		}
		var got Strategy
		if err := got.UnmarshalText(text); err != nil || got != s {
			t.Fatalf("UnmarshalText(%q) = %v, %v", text, got, err)
		}
	}
	if _, err := ParseStrategy("ftp"); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Fatalf("ParseStrategy(ftp) error = %v", err)
	}
}

func TestDescriptorRecord(t *testing.T) {
	desc := Descriptor{Strategy: StrategyPath, Key: "ui/icon", TypeName: "*game.Texture"}
	got, ok, err := DescriptorFromRecord(desc.Record())
	if err != nil || !ok || got != desc {
		t.Fatalf("DescriptorFromRecord = %v, %v, %v", got, ok, err)
	}

	if _, ok, _ := DescriptorFromRecord(map[string]any{"key": "x"}); ok {
		t.Fatal("partial record must not be treated as a descriptor")
	}
	extra := desc.Record()
	extra["other"] = 1
	if _, ok, _ := DescriptorFromRecord(extra); ok {
		t.Fatal("record with extra fields must not be treated as a descriptor")
	}
	bad := desc.Record()
	bad[FieldKey] = ""
	if _, ok, err := DescriptorFromRecord(bad); !ok || !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Fatalf("empty key record = %v, %v", ok, err)
	}
}

func TestNewFromDescriptorValidation(t *testing.T) {
	resolver, _ := newTestResolver(t)
	tests := []Descriptor{
		{Strategy: StrategyRegistry, Key: "", TypeName: "T"},
		{Strategy: StrategyRegistry, Key: "k", TypeName: ""},
		{Strategy: Strategy(42), Key: "k", TypeName: "T"},
	}
	for _, desc := range tests {
		if _, err := NewFromDescriptor(resolver, desc); !errors.Is(err, errdefs.ErrInvalidArgument) {
			t.Fatalf("NewFromDescriptor(%v) error = %v", desc, err)
		}
	}
}

func TestNewFromObjectRegistersAndWarmsCache(t *testing.T) {
	resolver, reg := newTestResolver(t)
	tex := &texture{Name: "grass"}

	ref, err := NewFromObject(resolver, StrategyRegistry, "grass", tex)
	if err != nil {
		t.Fatalf("NewFromObject() error = %v", err)
	}
	if !reg.ContainsKey("grass") {
		t.Fatal("registry strategy should register the object immediately")
	}
	if !ref.IsResolved() || ref.GetObject(context.Background()) != tex {
		t.Fatal("cache should be warm after construction from a live object")
	}
	want := "*" + reflect.TypeOf(texture{}).PkgPath() + ".texture"
	if ref.Descriptor().TypeName != want {
		t.Fatalf("TypeName = %q, want %q", ref.Descriptor().TypeName, want)
	}
	if ref.GetObjectType() != reflect.TypeOf(tex) {
		t.Fatalf("GetObjectType() = %v", ref.GetObjectType())
	}

	if _, err := NewFromObject(resolver, StrategyRegistry, "", tex); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Fatalf("empty key error = %v", err)
	}
	var nilTex *texture
	if _, err := NewFromObject(resolver, StrategyRegistry, "k", nilTex); !errors.Is(err, errdefs.ErrInvalidArgument) {
		t.Fatalf("nil object error = %v", err)
	}
}

func TestPathStrategyOnlyRegistersWithRegistry(t *testing.T) {
	loader := PathLoaderFunc(func(context.Context, string, reflect.Type) (any, error) { return nil, nil })
	resolver, reg := newTestResolver(t, WithPathLoader(loader, "assets"))
	if _, err := NewFromObject(resolver, StrategyPath, "rock", &texture{}); err != nil {
		t.Fatalf("NewFromObject() error = %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("path strategy must not touch the registry")
	}
}

func TestGetObjectMemoizesFailure(t *testing.T) {
	var calls int32
	loader := PathLoaderFunc(func(_ context.Context, path string, _ reflect.Type) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	resolver, _ := newTestResolver(t, WithPathLoader(loader, ""))
	ref, err := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyPath, Key: "missing", TypeName: "T"})
	if err != nil {
		t.Fatalf("NewFromDescriptor() error = %v", err)
	}

	ctx := context.Background()
	if ref.GetObject(ctx) != nil || ref.GetObject(ctx) != nil {
		t.Fatal("unavailable resource should resolve to nil")
	}
	if calls != 1 {
		t.Fatalf("strategy invoked %d times, want 1", calls)
	}
	if _, err := ref.Resolve(ctx); !IsUnresolved(err) {
		t.Fatalf("memoized error = %v, want unresolved", err)
	}

	ref.Release()
	ref.GetObject(ctx)
	ref.GetObject(ctx)
	if calls != 2 {
		t.Fatalf("after Release strategy invoked %d times, want 2", calls)
	}
}

func TestReleaseAllowsLaterSuccess(t *testing.T) {
	resolver, reg := newTestResolver(t)
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyRegistry, Key: "hero", TypeName: "T"})
	ctx := context.Background()

	if ref.GetObject(ctx) != nil {
		t.Fatal("expected nil before registration")
	}
	hero := &texture{Name: "hero"}
	_ = reg.RegisterObject("hero", hero)
	if ref.GetObject(ctx) != nil {
		t.Fatal("memoized nil should persist until Release")
	}
	ref.Release()
	if ref.GetObject(ctx) != hero {
		t.Fatal("expected handle after Release")
	}
}

func TestRegistryStrategyFallsBackToDefaultRegistryResource(t *testing.T) {
	types := NewTypeRegistry(&texture{})
	var requested []string
	loader := PathLoaderFunc(func(_ context.Context, path string, typ reflect.Type) (any, error) {
		requested = append(requested, path)
		switch path {
		case DefaultRegistryPath:
			if typ != reflect.TypeOf(&registry.Manifest{}) {
				t.Errorf("manifest requested as %v", typ)
			}
			return &registry.Manifest{Entries: []registry.ManifestEntry{
				{Key: "hero", Path: "textures/hero", TypeName: TypeNameOf(&texture{})},
			}}, nil
		case "textures/hero":
			if typ != reflect.TypeOf(&texture{}) {
				t.Errorf("handle requested as %v", typ)
			}
			return &texture{Name: "hero"}, nil
		}
		return nil, nil
	})
	resolver := NewResolver(WithLocator(locator.New()), WithPathLoader(loader, ""), WithTypeRegistry(types))
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyRegistry, Key: "hero", TypeName: "T"})

	tex, ok := ref.GetObject(context.Background()).(*texture)
	if !ok || tex.Name != "hero" {
		t.Fatalf("expected handle from fallback registry, got %v", ref.GetObject(context.Background()))
	}
	if !reflect.DeepEqual(requested, []string{DefaultRegistryPath, "textures/hero"}) {
		t.Fatalf("requested paths = %v", requested)
	}

	reg, err := resolver.Registry()
	if err != nil || !reg.ContainsKey("hero") {
		t.Fatalf("Registry() = %v, %v", reg, err)
	}
	if again, _ := resolver.Registry(); again != reg || len(requested) != 2 {
		t.Fatalf("manifest registry should be loaded once, requested %v", requested)
	}
}

func TestRegistryStrategyRejectsUnexpectedManifest(t *testing.T) {
	loader := PathLoaderFunc(func(context.Context, string, reflect.Type) (any, error) {
		return []byte("raw"), nil
	})
	resolver := NewResolver(WithLocator(locator.New()), WithPathLoader(loader, ""))
	if _, err := resolver.Registry(); !errors.Is(err, errdefs.ErrTypeMismatch) {
		t.Fatalf("Registry() error = %v", err)
	}
}

func TestDefaultResolverFollowsRegistryReset(t *testing.T) {
	registry.ResetDefault()
	t.Cleanup(registry.ResetDefault)

	resolver := DefaultResolver()
	first, err := resolver.Registry()
	if err != nil || first != registry.Default() {
		t.Fatalf("Registry() = %v, %v", first, err)
	}

	registry.ResetDefault()
	hero := &texture{Name: "hero"}
	if _, err := NewFromObject(nil, StrategyRegistry, "tex/hero", hero); err != nil {
		t.Fatalf("NewFromObject() error = %v", err)
	}
	if !registry.Default().ContainsKey("tex/hero") {
		t.Fatal("handle should land in the registry installed after reset")
	}
	if first.ContainsKey("tex/hero") {
		t.Fatal("handle must not land in the discarded registry")
	}
	if current, _ := resolver.Registry(); current != registry.Default() {
		t.Fatal("resolver should report the current default registry")
	}
}

func TestWithDefaultRegistry(t *testing.T) {
	reg := registry.New()
	resolver := NewResolver(WithLocator(locator.New()), WithDefaultRegistry(reg))
	if err := resolver.Register("hero", &texture{}); err != nil || !reg.ContainsKey("hero") {
		t.Fatalf("Register() = %v", err)
	}

	bare := NewResolver(WithLocator(locator.New()))
	if _, err := bare.Registry(); !errors.Is(err, errdefs.ErrUnsupportedStrategy) {
		t.Fatalf("Registry() without any source error = %v", err)
	}
}

func TestUntypedGetObjectReturnsOverwrittenRegistryHandle(t *testing.T) {
	types := NewTypeRegistry(&texture{})
	resolver, reg := newTestResolver(t, WithTypeRegistry(types))
	_ = reg.RegisterObject("hero", &mesh{Verts: 3})
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyRegistry, Key: "hero", TypeName: TypeNameOf(&texture{})})

	got, ok := ref.GetObject(context.Background()).(*mesh)
	if !ok || got.Verts != 3 {
		t.Fatalf("GetObject() = %v", ref.GetObject(context.Background()))
	}
	if _, ok := GetObjectAs[*texture](context.Background(), ref); ok {
		t.Fatal("typed access should still fail soft on the wrong type")
	}
}

func TestRegistryStrategyWithoutAnyRegistryLogsAndReturnsNil(t *testing.T) {
	var events []logging.Event
	logger := logging.LoggerFunc(func(e logging.Event) { events = append(events, e) })
	capture := &activity.CaptureHook{}
	resolver := NewResolver(
		WithLocator(locator.New()),
		WithLogger(logger),
		WithActivityHooks(activity.Hooks{capture}),
	)
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyRegistry, Key: "ghost", TypeName: "T"})

	if ref.GetObject(context.Background()) != nil {
		t.Fatal("expected nil")
	}
	if len(events) != 1 || events[0].Level != logging.LevelWarn {
		t.Fatalf("expected one warning, got %+v", events)
	}
	var resErr *ResolutionError
	if !errors.As(events[0].Err, &resErr) || resErr.Key != "ghost" {
		t.Fatalf("log error = %v", events[0].Err)
	}
	if got := capture.Verbs(); !reflect.DeepEqual(got, []string{activity.VerbReferenceUnresolved}) {
		t.Fatalf("verbs = %v", got)
	}
}

func TestUnsupportedStrategy(t *testing.T) {
	var outcomes []Outcome
	observer := ObserverFunc(func(_ Strategy, o Outcome, _ time.Duration) { outcomes = append(outcomes, o) })
	resolver, _ := newTestResolver(t, WithObserver(observer))
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyAddressable, Key: "k", TypeName: "T"})

	got, err := ref.Resolve(context.Background())
	if got != nil || !errors.Is(err, errdefs.ErrUnsupportedStrategy) {
		t.Fatalf("Resolve() = %v, %v", got, err)
	}
	if !reflect.DeepEqual(outcomes, []Outcome{OutcomeUnsupported}) {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestPathStrategyUsesPrefixAndType(t *testing.T) {
	types := NewTypeRegistry(&texture{})
	var gotPath string
	var gotType reflect.Type
	loader := PathLoaderFunc(func(_ context.Context, path string, typ reflect.Type) (any, error) {
		gotPath, gotType = path, typ
		return &texture{Name: path}, nil
	})
	resolver, _ := newTestResolver(t, WithPathLoader(loader, "/assets/"), WithTypeRegistry(types))
	ref, _ := NewFromDescriptor(resolver, Descriptor{
		Strategy: StrategyPath,
		Key:      "ui/icon",
		TypeName: TypeNameOf(&texture{}),
	})

	tex, ok := GetObjectAs[*texture](context.Background(), ref)
	if !ok || tex.Name != "assets/ui/icon" {
		t.Fatalf("GetObjectAs = %v, %v", tex, ok)
	}
	if gotPath != "assets/ui/icon" || gotType != reflect.TypeOf(&texture{}) {
		t.Fatalf("loader called with %q, %v", gotPath, gotType)
	}
	if _, ok := GetObjectAs[*mesh](context.Background(), ref); ok {
		t.Fatal("GetObjectAs with wrong type should fail soft")
	}
}

func TestTypeMismatchFromLoaderIsUnresolved(t *testing.T) {
	types := NewTypeRegistry(&texture{})
	loader := PathLoaderFunc(func(context.Context, string, reflect.Type) (any, error) {
		return &mesh{}, nil
	})
	resolver, _ := newTestResolver(t, WithPathLoader(loader, ""), WithTypeRegistry(types))
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyPath, Key: "k", TypeName: TypeNameOf(&texture{})})

	if _, err := ref.Resolve(context.Background()); !errors.Is(err, errdefs.ErrTypeMismatch) {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestAddressableStrategyWaitsAndCoalesces(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	loader := AsyncLoaderFunc(func(_ context.Context, key string) Future {
		atomic.AddInt32(&calls, 1)
		return NewFuture(func() (any, error) {
			<-release
			return &texture{Name: key}, nil
		})
	})
	resolver, _ := newTestResolver(t, WithAsyncLoader(loader))

	const workers = 5
	refs := make([]*Reference, workers)
	for i := range refs {
		refs[i], _ = NewFromDescriptor(resolver, Descriptor{Strategy: StrategyAddressable, Key: "bundle/tree", TypeName: "T"})
	}

	var wg sync.WaitGroup
	results := make([]any, workers)
	for i := range refs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = refs[i].GetObject(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, res := range results {
		tex, ok := res.(*texture)
		if !ok || tex.Name != "bundle/tree" {
			t.Fatalf("result %d = %v", i, res)
		}
	}
	if n := atomic.LoadInt32(&calls); n < 1 || n > workers {
		t.Fatalf("unexpected load count %d", n)
	}
}

func TestAddressableWaitHonoursContext(t *testing.T) {
	loader := AsyncLoaderFunc(func(context.Context, string) Future {
		f, _ := Promise()
		return f
	})
	resolver, _ := newTestResolver(t, WithAsyncLoader(loader))
	ref, _ := NewFromDescriptor(resolver, Descriptor{Strategy: StrategyAddressable, Key: "never", TypeName: "T"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := ref.Resolve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Resolve() error = %v", err)
	}
}

func TestCloneDescriptorDropsCache(t *testing.T) {
	resolver, _ := newTestResolver(t)
	ref, _ := NewFromObject(resolver, StrategyRegistry, "tex", &texture{})
	clone := ref.CloneDescriptor()
	if clone.Descriptor() != ref.Descriptor() {
		t.Fatal("descriptor should be copied")
	}
	if clone.CacheState().Attempted || clone.IsResolved() {
		t.Fatal("clone must start with an empty cache")
	}
}

func TestStaticPolicy(t *testing.T) {
	s, key := DefaultPolicy().Select(keyed("hero"))
	if s != StrategyRegistry || key != "hero" {
		t.Fatalf("Select = %v, %q", s, key)
	}
	_, generated := DefaultPolicy().Select(keyed(""))
	if generated == "" {
		t.Fatal("expected generated key")
	}
}

type keyed string

func (k keyed) ResourceKey() string { return string(k) }

func TestFutureResolved(t *testing.T) {
	sentinel := errors.New("boom")
	f := Resolved(nil, sentinel)
	select {
	case <-f.Done():
	default:
		t.Fatal("Resolved future should be done")
	}
	if _, err := f.Wait(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("Wait() error = %v", err)
	}
}

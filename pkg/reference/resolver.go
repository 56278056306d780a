package reference

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/locator"
	"github.com/goliatone/go-datastore/pkg/logging"
	"github.com/goliatone/go-datastore/pkg/registry"
)

const logComponent = "reference"

// Outcome classifies a single resolution attempt.
type Outcome string

const (
	OutcomeResolved    Outcome = "resolved"
	OutcomeUnresolved  Outcome = "unresolved"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnsupported Outcome = "unsupported"
)

// Observer receives one call per strategy dispatch.
type Observer interface {
	ObserveResolution(strategy Strategy, outcome Outcome, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(strategy Strategy, outcome Outcome, elapsed time.Duration)

// ObserveResolution implements Observer.
func (f ObserverFunc) ObserveResolution(strategy Strategy, outcome Outcome, elapsed time.Duration) {
	if f != nil {
		f(strategy, outcome, elapsed)
	}
}

// Resolver dispatches descriptors to the Loader registered for their
// strategy. Failures are logged, observed and reported to activity hooks.
type Resolver struct {
	strategies map[Strategy]Loader
	types      *TypeRegistry
	locator    *locator.Locator
	logger     logging.Logger
	observer   Observer
	hooks      activity.Hooks

	pathLoader      PathLoader
	pathPrefix      string
	asyncLoader     AsyncLoader
	registryPath    string
	defaultRegistry func() *registry.Registry
	registryOpts    []registry.Option
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithStrategy installs loader for strategy, replacing any default.
func WithStrategy(strategy Strategy, loader Loader) Option {
	return func(r *Resolver) {
		if loader != nil {
			r.strategies[strategy] = loader
		}
	}
}

// WithPathLoader enables the path strategy and the registry fallback.
func WithPathLoader(loader PathLoader, prefix string) Option {
	return func(r *Resolver) {
		r.pathLoader = loader
		r.pathPrefix = prefix
	}
}

// WithAsyncLoader enables the addressable strategy.
func WithAsyncLoader(loader AsyncLoader) Option {
	return func(r *Resolver) {
		r.asyncLoader = loader
	}
}

// WithDefaultRegistryPath overrides the resource path used to load the
// registry when no registry service is published.
func WithDefaultRegistryPath(resourcePath string) Option {
	return func(r *Resolver) {
		r.registryPath = resourcePath
	}
}

// WithDefaultRegistry sets the registry used when the locator publishes none
// and no persisted registry manifest is found.
func WithDefaultRegistry(reg *registry.Registry) Option {
	return func(r *Resolver) {
		if reg != nil {
			r.defaultRegistry = func() *registry.Registry { return reg }
		}
	}
}

// WithRegistryOptions configures a registry built from a persisted manifest.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(r *Resolver) {
		r.registryOpts = append(r.registryOpts, opts...)
	}
}

// WithLocator sets the service locator consulted for the registry.
func WithLocator(l *locator.Locator) Option {
	return func(r *Resolver) {
		r.locator = l
	}
}

// WithTypeRegistry sets the registry used to map declared type names back to
// runtime types.
func WithTypeRegistry(types *TypeRegistry) Option {
	return func(r *Resolver) {
		if types != nil {
			r.types = types
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Resolver) {
		r.logger = logging.OrNop(logger)
	}
}

// WithObserver sets the resolution observer.
func WithObserver(observer Observer) Option {
	return func(r *Resolver) {
		r.observer = observer
	}
}

// WithActivityHooks sets the hooks notified about unresolved references.
func WithActivityHooks(hooks activity.Hooks) Option {
	return func(r *Resolver) {
		r.hooks = hooks.Clone()
	}
}

// NewResolver builds a Resolver. Without WithLocator the resolver falls back
// to registry.Default(), looked up on every use so ResetDefault is honoured.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		strategies: make(map[Strategy]Loader),
		types:      NewTypeRegistry(),
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.locator == nil {
		r.locator = locator.New()
		if r.defaultRegistry == nil {
			r.defaultRegistry = registry.Default
		}
	}
	if _, ok := r.strategies[StrategyRegistry]; !ok {
		r.strategies[StrategyRegistry] = &RegistryStrategy{
			Locator:      r.locator,
			Fallback:     r.pathLoader,
			FallbackPath: r.registryPath,
			Types:        r.types,
			Default:      r.defaultRegistry,
			Options:      r.registryOpts,
		}
	}
	if _, ok := r.strategies[StrategyPath]; !ok && r.pathLoader != nil {
		r.strategies[StrategyPath] = &PathStrategy{Loader: r.pathLoader, Prefix: r.pathPrefix}
	}
	if _, ok := r.strategies[StrategyAddressable]; !ok && r.asyncLoader != nil {
		r.strategies[StrategyAddressable] = &AddressableStrategy{Loader: r.asyncLoader}
	}
	return r
}

var (
	defaultResolver     *Resolver
	defaultResolverOnce sync.Once
)

// DefaultResolver returns a process-wide resolver backed by registry.Default.
// References constructed without a resolver use it.
func DefaultResolver() *Resolver {
	defaultResolverOnce.Do(func() {
		defaultResolver = NewResolver()
	})
	return defaultResolver
}

// Types returns the resolver's type registry.
func (r *Resolver) Types() *TypeRegistry {
	return r.types
}

// Locator returns the resolver's service locator.
func (r *Resolver) Locator() *locator.Locator {
	return r.locator
}

// Supports reports whether a loader is installed for strategy.
func (r *Resolver) Supports(strategy Strategy) bool {
	_, ok := r.strategies[strategy]
	return ok
}

// Registry returns the registry the registry strategy resolves against.
func (r *Resolver) Registry() (*registry.Registry, error) {
	return r.RegistryContext(context.Background())
}

// RegistryContext is Registry with a context passed to a manifest load.
func (r *Resolver) RegistryContext(ctx context.Context) (*registry.Registry, error) {
	strategy, ok := r.strategies[StrategyRegistry].(*RegistryStrategy)
	if !ok {
		return locator.Resolve[*registry.Registry](r.locator)
	}
	reg, err := strategy.Registry(ctx)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: no registry available", errdefs.ErrUnsupportedStrategy)
	}
	return reg, nil
}

// Register records handle under key in the resolver's registry.
func (r *Resolver) Register(key string, handle any) error {
	reg, err := r.Registry()
	if err != nil {
		return err
	}
	return reg.RegisterObject(key, handle)
}

// Load dispatches desc to its strategy and returns the handle. It returns a
// *ResolutionError when the strategy is missing, fails, finds nothing, or
// when a loader returns a handle that is not assignable to typ. Registry
// handles are returned as stored; typed accessors check them.
func (r *Resolver) Load(ctx context.Context, desc Descriptor, typ reflect.Type) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	loader, ok := r.strategies[desc.Strategy]
	if !ok {
		err := fmt.Errorf("%w: %s", errdefs.ErrUnsupportedStrategy, desc.Strategy)
		return nil, r.fail(ctx, desc, OutcomeUnsupported, err, start)
	}

	handle, err := loader.Load(ctx, desc, typ)
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, errdefs.ErrUnresolvedReference) {
			outcome = OutcomeUnresolved
		}
		return nil, r.fail(ctx, desc, outcome, err, start)
	}
	if isNilHandle(handle) {
		return nil, r.fail(ctx, desc, OutcomeUnresolved, errdefs.ErrUnresolvedReference, start)
	}
	if typ != nil && desc.Strategy != StrategyRegistry && !reflect.TypeOf(handle).AssignableTo(typ) {
		err := errdefs.TypeMismatch(desc.Key, typ.String(), reflect.TypeOf(handle).String())
		return nil, r.fail(ctx, desc, OutcomeFailed, err, start)
	}

	r.observe(desc.Strategy, OutcomeResolved, time.Since(start))
	r.logger.Log(logging.Event{
		Level:     logging.LevelDebug,
		Component: logComponent,
		Message:   "reference resolved",
		Fields:    descriptorFields(desc),
	})
	return handle, nil
}

func (r *Resolver) fail(ctx context.Context, desc Descriptor, outcome Outcome, err error, start time.Time) error {
	resErr := wrapResolutionError(desc, err)
	r.observe(desc.Strategy, outcome, time.Since(start))

	fields := descriptorFields(desc)
	fields["outcome"] = string(outcome)
	r.logger.Log(logging.Event{
		Level:     logging.LevelWarn,
		Component: logComponent,
		Message:   "reference could not be resolved",
		Fields:    fields,
		Err:       resErr,
	})

	if r.hooks.Enabled() {
		event := activity.BuildReferenceUnresolvedEvent(activity.ReferenceInput{
			Strategy: desc.Strategy.String(),
			Key:      desc.Key,
			TypeName: desc.TypeName,
			Reason:   string(outcome),
		})
		if hookErr := r.hooks.Notify(ctx, event); hookErr != nil {
			r.logger.Log(logging.Event{
				Level:     logging.LevelDebug,
				Component: logComponent,
				Message:   "activity hook failed",
				Err:       hookErr,
			})
		}
	}
	return resErr
}

func (r *Resolver) observe(strategy Strategy, outcome Outcome, elapsed time.Duration) {
	if r.observer != nil {
		r.observer.ObserveResolution(strategy, outcome, elapsed)
	}
}

func descriptorFields(desc Descriptor) map[string]any {
	return map[string]any{
		"strategy":  desc.Strategy.String(),
		"key":       desc.Key,
		"type_name": desc.TypeName,
	}
}

func isNilHandle(handle any) bool {
	if handle == nil {
		return true
	}
	rv := reflect.ValueOf(handle)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	datastore "github.com/goliatone/go-datastore"
	"github.com/goliatone/go-datastore/loader/fsloader"
	"github.com/goliatone/go-datastore/loader/s3loader"
	"github.com/goliatone/go-datastore/pkg/activity"
	"github.com/goliatone/go-datastore/pkg/config"
	"github.com/goliatone/go-datastore/pkg/locator"
	"github.com/goliatone/go-datastore/pkg/logging"
	"github.com/goliatone/go-datastore/pkg/metrics"
	"github.com/goliatone/go-datastore/pkg/reference"
	"github.com/goliatone/go-datastore/pkg/registry"
	"github.com/goliatone/go-datastore/pkg/state"
)

// runtime holds the services a configured process shares.
type runtime struct {
	logger     zerolog.Logger
	registry   *registry.Registry
	resolver   *reference.Resolver
	collector  *metrics.Collector
	store      state.Store
	repository state.Repository
	options    []datastore.Option
	closers    []func() error
}

func buildRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	strategy, err := reference.ParseStrategy(cfg.References.DefaultStrategy)
	if err != nil {
		return nil, err
	}

	rt.collector = metrics.NewCollector(metrics.Config{
		Prefix:  cfg.Metrics.Prefix,
		Runtime: cfg.Metrics.Enabled,
	})
	hooks := activity.Hooks{rt.collector}
	log := logging.Zerolog(logger)

	// The locator starts empty so a persisted registry manifest under the
	// path root wins over the in-memory fallback.
	loc := locator.New()
	resolverOpts := []reference.Option{
		reference.WithLocator(loc),
		reference.WithDefaultRegistry(registry.New(registry.WithActivityHooks(hooks))),
		reference.WithRegistryOptions(registry.WithActivityHooks(hooks)),
		reference.WithLogger(log),
		reference.WithObserver(rt.collector),
		reference.WithActivityHooks(hooks),
		reference.WithDefaultRegistryPath(cfg.References.DefaultRegistryPath),
	}

	if root := cfg.References.PathRoot; root != "" {
		files, err := fsloader.New(root, fsloader.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("path loader: %w", err)
		}
		if cfg.References.WatchPathRoot {
			if err := files.Watch(); err != nil {
				return nil, fmt.Errorf("path loader: %w", err)
			}
			rt.closers = append(rt.closers, files.Close)
		}
		resolverOpts = append(resolverOpts, reference.WithPathLoader(files, cfg.References.PathPrefix))
	}

	if addr := cfg.References.Addressables; addr.Enabled {
		objects, err := s3loader.NewFromConfig(ctx, s3loader.Config{
			Bucket:  addr.Bucket,
			Region:  addr.Region,
			Prefix:  addr.Prefix,
			Profile: addr.Profile,
		}, s3loader.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("addressable loader: %w", err)
		}
		resolverOpts = append(resolverOpts, reference.WithAsyncLoader(objects))
	}
	rt.resolver = reference.NewResolver(resolverOpts...)

	rt.registry, err = rt.resolver.RegistryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	locator.Provide(loc, rt.registry)

	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := state.NewSQLiteStore(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		rt.store = store
		rt.closers = append(rt.closers, store.Close)
	default:
		rt.store = state.NewMemoryStore()
	}

	rt.options = []datastore.Option{
		datastore.WithResolver(rt.resolver),
		datastore.WithStrategyPolicy(reference.StaticPolicy{Strategy: strategy}),
		datastore.WithLogger(log),
		datastore.WithActivityHooks(hooks),
	}
	rt.repository = state.NewRepository(rt.store, rt.options...)

	logger.Debug().
		Str("default_strategy", strategy.String()).
		Str("storage", cfg.Storage.Driver).
		Bool("path_loader", cfg.References.PathRoot != "").
		Bool("addressables", cfg.References.Addressables.Enabled).
		Int("registry_entries", rt.registry.Len()).
		Msg("runtime ready")
	ok = true
	return rt, nil
}

// Close releases loaders and stores in reverse order.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

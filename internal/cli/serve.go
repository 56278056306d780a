package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-datastore/pkg/config"
	"github.com/goliatone/go-datastore/pkg/inspect"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var addr string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry and stored records over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			if watch && root.configPath != "" {
				holder, err := config.NewHolder(root.configPath, logger)
				if err != nil {
					return err
				}
				holder.OnChange(func(next *config.Config) {
					zerolog.SetGlobalLevel(zerologLevel(next.Logging.Level))
				})
				if err := holder.WatchFile(); err != nil {
					return err
				}
				defer holder.Stop()
			}
			if addr != "" {
				cfg.Inspect.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			deps := inspect.Deps{
				Registry:   rt.registry,
				Repository: &rt.repository,
				Logger:     logger,
			}
			if cfg.Metrics.Enabled {
				deps.Metrics = rt.collector.Handler()
				deps.MetricsPath = cfg.Metrics.Path
			}
			return serve(ctx, cfg.Inspect.Addr, inspect.NewHandler(deps).Router(), logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides inspect.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the config file when it changes")
	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("inspection server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info().Msg("shutting down inspection server")
	return server.Shutdown(shutdownCtx)
}

func zerologLevel(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

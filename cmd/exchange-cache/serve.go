package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/exchange-cache/internal/proxy"
	"github.com/Sternrassler/exchange-cache/pkg/cache"
	"github.com/Sternrassler/exchange-cache/pkg/config"
	"github.com/Sternrassler/exchange-cache/pkg/logging"
	"github.com/Sternrassler/exchange-cache/pkg/mediation"
	"github.com/Sternrassler/exchange-cache/pkg/replication"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", getEnv("CONFIG_FILE", "exchange-cache.yaml"), "Path to config file")
	return cmd
}

// loadConfig reads the file and applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	cfg.Server.ListenAddr = getEnv("LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.Upstream = getEnv("UPSTREAM_URL", cfg.Server.Upstream)
	cfg.Redis.Addr = getEnv("REDIS_URL", cfg.Redis.Addr)
	cfg.Logging.Level = logging.LogLevel(getEnv("LOG_LEVEL", string(cfg.Logging.Level)))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.Logging)

	var (
		buildOpts   []config.BuildOption
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis, replication enabled")

		repl := replication.NewRedis(redisClient,
			replication.WithLogger(logging.NewLogger("replication")),
			replication.WithExchangeTTL(cfg.Redis.ExchangeTTL))
		buildOpts = append(buildOpts,
			config.WithCoordinatorOptions(
				mediation.WithReplicator(repl),
				mediation.WithStateLoader(repl)),
			config.WithLoaderFactory(repl.Loader))
	}

	reg := cache.NewRegistry()
	defer reg.Clear()

	handler, err := newHandler(cfg, reg, redisClient, logger, buildOpts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Strs("caches", reg.IDs()).Msg("Starting exchange cache")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newHandler builds the coordinators of cfg and mounts a pipeline per route.
func newHandler(cfg *config.Config, reg *cache.Registry, redisClient *redis.Client, logger zerolog.Logger, opts ...config.BuildOption) (http.Handler, error) {
	pipelines, err := cfg.Build(reg, opts...)
	if err != nil {
		return nil, err
	}

	routes := make([]proxy.Route, 0, len(cfg.Routes))
	for _, rt := range cfg.Routes {
		pl := pipelines[rt.Cache]
		upstream := rt.Upstream
		if upstream == "" {
			upstream = cfg.Server.Upstream
		}
		p, err := proxy.NewPipeline(pl.Finder, pl.Collector, upstream,
			proxy.WithTimeout(cfg.Server.UpstreamTimeout),
			proxy.WithRetry(retryConfig(cfg.Server.UpstreamAttempts)),
			proxy.WithLogger(logging.NewLogger("proxy")))
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", rt.Path, err)
		}
		routes = append(routes, proxy.Route{Path: rt.Path, Pipeline: p})
		logger.Debug().Str("path", rt.Path).Str("cache_id", rt.Cache).Str("upstream", upstream).Msg("Route mounted")
	}

	router, err := proxy.NewRouter(routes...)
	if err != nil {
		return nil, err
	}
	router.Get("/ready", readyHandler(redisClient))
	return router, nil
}

func retryConfig(attempts int) proxy.RetryConfig {
	rc := proxy.DefaultRetryConfig()
	rc.MaxAttempts = attempts
	return rc
}

// readyHandler reports whether the replication backend is reachable.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

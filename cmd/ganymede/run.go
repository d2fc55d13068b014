package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/assembler"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gateway"
	"mercator-hq/ganymede/pkg/pacer"
	"mercator-hq/ganymede/pkg/providers"
	"mercator-hq/ganymede/pkg/providers/generic"
	"mercator-hq/ganymede/pkg/retry"
	"mercator-hq/ganymede/pkg/routing"
	"mercator-hq/ganymede/pkg/server"
	"mercator-hq/ganymede/pkg/telemetry/logging"
	"mercator-hq/ganymede/pkg/telemetry/metrics"
	"mercator-hq/ganymede/pkg/thread"
	"mercator-hq/ganymede/pkg/tokens"
)

var runFlags struct {
	port     int
	logLevel string
	dryRun   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway server",
	Long: `Start the gateway server with the specified configuration.

Examples:
  # Start with defaults
  ganymede run

  # Start with a config file
  ganymede run --config /etc/ganymede/config.yaml

  # Validate config without starting
  ganymede run --config config.yaml --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if runFlags.port != 0 {
		cfg.Server.Port = runFlags.port
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}

	if _, err := logging.Setup(cfg.Logging); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(cfg.Metrics, nil)

	// Turn store.
	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	store := thread.NewStore(backend)
	defer store.Close()

	scheduler := thread.NewRetentionScheduler(thread.NewPruner(backend, cfg.Storage.Retention))
	if cfg.Storage.Retention.RetentionDays > 0 {
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start retention scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	// History cache.
	cache, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}

	asm := assembler.New(store, cache,
		tokens.NewSimpleEstimator(cfg.Tokens.CharsPerToken),
		cfg.Assembler.Config,
		retry.DefaultPolicy(),
	)

	// Upstream providers.
	registry := providers.NewRegistry()
	defer registry.Close()
	for _, entry := range cfg.Providers {
		prov, err := generic.NewProvider(providers.ProviderConfig{
			Name:    entry.Name,
			BaseURL: entry.BaseURL,
			APIKey:  entry.APIKey,
			Timeout: entry.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create provider %q: %w", entry.Name, err)
		}
		if err := registry.Register(prov); err != nil {
			return err
		}
	}

	pc := pacer.New(cfg.Pacer.Defaults, cfg.Pacer.Providers)
	resolver := routing.NewResolver(cfg.Routing.Rules, cfg.Routing.DefaultProvider)

	gw := gateway.New(asm, pc, registry, resolver, store, cache, collector, gateway.Config{
		SystemPrompt:     cfg.Gateway.SystemPrompt,
		SubscriberBuffer: cfg.Gateway.SubscriberBuffer,
		UpstreamTimeout:  cfg.Gateway.UpstreamTimeout,
		PersistTimeout:   cfg.Gateway.PersistTimeout,
	})

	// Hot reload of pacer limits.
	if cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, 0)
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		go func() {
			if err := watcher.Watch(ctx, func(newCfg *config.Config) {
				for _, entry := range newCfg.Providers {
					limits, ok := newCfg.Pacer.Providers[entry.Name]
					if !ok {
						limits = newCfg.Pacer.Defaults
					}
					pc.UpdateLimits(entry.Name, limits)
				}
				slog.Info("pacer limits reloaded")
			}); err != nil {
				slog.Error("config watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, gw, registry, collector)

	return srv.Start(ctx)
}

func buildBackend(cfg *config.Config) (thread.Backend, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return thread.NewMemoryBackend(), nil
	default:
		backend, err := thread.NewSQLiteBackend(cfg.ThreadSQLiteConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open turn store: %w", err)
		}
		return backend, nil
	}
}

func buildCache(ctx context.Context, cfg *config.Config) (assembler.HistoryCache, error) {
	switch cfg.Assembler.Cache.Type {
	case "redis":
		cache, err := assembler.NewRedisCache(ctx, cfg.Assembler.Cache.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect history cache: %w", err)
		}
		return cache, nil
	case "none":
		return nil, nil
	default:
		return assembler.NewMemoryCache(cfg.Assembler.Cache.MaxTurns, cfg.Assembler.Cache.TTL), nil
	}
}

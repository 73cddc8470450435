package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mrmushfiq/image-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/image-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/image-gateway/internal/gateway/metrics"
	"github.com/mrmushfiq/image-gateway/internal/gateway/optimize"
	"github.com/mrmushfiq/image-gateway/internal/gateway/processor"
	"github.com/mrmushfiq/image-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/image-gateway/internal/gateway/tasks"
	"github.com/mrmushfiq/image-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/image-gateway/internal/shared/config"
	"github.com/mrmushfiq/image-gateway/internal/shared/database"
	"github.com/mrmushfiq/image-gateway/internal/shared/logging"
	"github.com/mrmushfiq/image-gateway/internal/shared/redis"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) (err error) {
	var closers []namedCloser
	defer func() { err = closeAll(err, closers) }()

	closers = append(closers, namedCloser{"log file", logging.Setup(cfg.LogFile)})
	metrics.Init(cfg.MetricsEnabled)

	if cfg.ProcessorURL == "" {
		return fmt.Errorf("IMAGE_PROCESSOR_URL is required")
	}

	log.Printf("Starting image gateway on port %s (env: %s)", cfg.Port, cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	closers = append(closers, namedCloser{"database", db})
	log.Printf("✓ Connected to %s", cfg.DatabaseDriver)

	// Initialize Redis
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	closers = append(closers, namedCloser{"redis", redisClient})
	log.Println("✓ Connected to Redis")

	executor, err := tasks.New(cfg.BackgroundWorkers, cfg.TaskQueueSize, cfg.StoreTimeout)
	if err != nil {
		return fmt.Errorf("failed to start background workers: %w", err)
	}
	closers = append(closers, namedCloser{"background workers", executor})

	projects := cache.NewProjectCache(db, cfg.ConfigCacheTTL)
	keys := cache.NewAPIKeyCache(db, cfg.ConfigCacheTTL)
	limiter := ratelimit.New(redisClient)

	svc := optimize.New(optimize.Deps{
		Projects:  projects,
		Keys:      keys,
		Limiter:   limiter,
		Processor: processor.NewHTTPClient(cfg.ProcessorURL, cfg.ProcessorTimeout),
		Recorder:  usage.NewRecorder(redisClient, db, cfg.UsageThrottle),
		Logger:    usage.NewRequestLogger(db, cfg.LogRetentionDays, cfg.CleanupProbability),
		Tasks:     executor,
	}, optimize.Config{
		DefaultPerMinute: cfg.DefaultRateLimitPerMinute,
		DefaultPerDay:    cfg.DefaultRateLimitPerDay,
		StoreTimeout:     cfg.StoreTimeout,
		ProcessorTimeout: cfg.ProcessorTimeout,
	})
	log.Println("✓ Initialized optimize pipeline")

	opts := handlers.RouterOptions{
		Optimize:       handlers.NewOptimizeHandler(svc),
		Admin:          handlers.NewAdminHandler(projects, keys, limiter, db),
		Middleware:     handlers.NewMiddleware(cfg.AdminToken),
		RequestTimeout: cfg.ProcessorTimeout + 2*cfg.StoreTimeout,
	}
	if metrics.Enabled {
		opts.Metrics = promhttp.Handler()
	}

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.NewRouter(opts),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("🚀 Server listening on http://localhost:%s", cfg.Port)
		log.Println("   GET  /{operations}/{image_path}                     - Optimize an image")
		log.Println("   GET  /t/{team}/{project}/{operations}/{image_path}  - Optimize for a named project")
		log.Println("   GET  /health                                        - Health check")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	log.Println("Shutting down gracefully...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	executor.Flush()

	log.Println("Server stopped")
	return nil
}

type namedCloser struct {
	name string
	io.Closer
}

// closeAll closes in reverse order of opening. Close failures are reported
// only when err is nil.
func closeAll(err error, closers []namedCloser) error {
	var result *multierror.Error
	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i].Close(); cerr != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", closers[i].name, cerr))
		}
	}
	if err != nil {
		return err
	}
	return result.ErrorOrNil()
}

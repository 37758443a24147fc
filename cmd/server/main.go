package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"stripview/internal/config"
	"stripview/internal/fetcher"
	httphandlers "stripview/internal/http"
	"stripview/internal/image_cache"
	"stripview/internal/image_slicer"
	"stripview/internal/logger"
	"stripview/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Map vips log levels to zap levels; info/debug stay out of the logs
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting stripview server",
		zap.Int("port", cfg.Port),
		zap.Int("slice_height", cfg.SliceHeight),
		zap.Duration("cache_ttl", cfg.CacheTTL),
	)

	m := metrics.New()

	client := fetcher.New(fetcher.Options{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.FetchUserAgent,
		Referer:   cfg.FetchReferer,
	}, log)

	store := image_cache.New(client, cfg.CacheTTL, cfg.FetchTimeout, log, m)

	janitor := image_cache.NewJanitor(store, cfg.CacheSweepInterval, log)
	if err := janitor.Start(); err != nil {
		log.Fatal("Failed to start cache janitor", zap.Error(err))
	}

	engine := image_slicer.NewEngine(cfg.JPEGQuality, log)

	handlers := httphandlers.New(cfg, log, store, engine, m)

	mux := http.NewServeMux()

	mux.HandleFunc("/slice", handlers.HandleSlice)
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.Handle("/metrics", m.Handler())

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	janitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

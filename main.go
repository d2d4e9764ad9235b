package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"ticker-enricher/internal/cache"
	"ticker-enricher/internal/common/logging"
	"ticker-enricher/internal/config"
	"ticker-enricher/internal/enrich"
	"ticker-enricher/internal/handlers"
	"ticker-enricher/internal/provider"
	"ticker-enricher/internal/ratelimit"
	"ticker-enricher/internal/redis"
	"ticker-enricher/internal/typo"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("Invalid configuration", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger()
	defer logging.MustSync()
	logger := logging.GetGlobalLogger()

	store, err := redis.NewClient(&redis.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDBInt(),
		PoolSize: cfg.RedisPoolSizeInt(),
	})
	if err != nil {
		logger.Error("Failed to connect to Redis", err)
		os.Exit(1)
	}
	defer store.Close()

	companyCache := cache.NewCompanyCache(store, cfg.CacheTTLDuration(), logger)

	var typoChecker *typo.Checker
	if cfg.TypoCorpusPath != "" {
		typoChecker, err = typo.LoadChecker(cfg.TypoCorpusPath)
		if err != nil {
			logger.Warn("Failed to load typo corpus, suggestions disabled",
				logging.String("path", cfg.TypoCorpusPath), logging.Err(err))
			typoChecker = nil
		} else {
			logger.Info("Typo corpus loaded", logging.Int("entries", typoChecker.Size()))
		}
	}

	lookup := provider.NewClient(provider.Config{
		BaseURL: cfg.FinnhubBaseURL,
		APIKey:  cfg.FinnhubAPIKey,
		Timeout: cfg.ProviderTimeoutDuration(),
	}, logger)

	enricher := enrich.NewService(lookup, companyCache, typoChecker,
		cfg.ConcurrencyLimitInt(), cfg.MaxRetriesInt(), logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewLimiter(store, cfg.RequestsPerMinuteInt(),
			cfg.BucketIdleWindowDuration(), logger)
	}

	router := mux.NewRouter()
	handlers.New(enricher, companyCache, limiter, store, logger).Register(router)
	if limiter != nil {
		router.Use(limiter.Middleware)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logging.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", err)
	}
	logger.Info("Server stopped")
}

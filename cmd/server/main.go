package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"amigo.app/meal-ledger/internal/api"
	"amigo.app/meal-ledger/internal/cache"
	"amigo.app/meal-ledger/internal/config"
	"amigo.app/meal-ledger/internal/core"
	"amigo.app/meal-ledger/internal/events"
	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meal-ledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Command line flag for schema setup
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Setup logging
	level, _ := applog.ParseLevel(cfg.LogLevel) // validated by config.Load
	logCfg := applog.DefaultConfig()
	logCfg.Level = level
	logger := applog.New(logCfg)
	applog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, store.WithLocation(loc), store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	if *migrateOnly {
		logger.Info("Database migrations applied, exiting", "database", cfg.DatabaseURL, applog.FieldOperation, applog.OpMigrate)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize analysis client
	analysisClient, err := core.NewAnalysisClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.AnalysisTimeout, logger)
	if err != nil {
		return err
	}
	defer analysisClient.Close()

	// Draft cache with periodic expiry
	drafts := cache.NewLRUCache[core.Draft](cfg.DraftCapacity, cfg.DraftTTL)
	cacheManager := cache.NewManager(logger.WithComponent(applog.ComponentLedger))
	cacheManager.Register(drafts)
	cacheManager.StartCleanup(time.Minute)
	defer cacheManager.Stop()

	// Optional ledger event forwarding
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, ledger events will not be published", applog.FieldError, err)
		} else {
			defer publisher.Close()
			go publisher.Forward(ctx, dbStore.Notifier())
		}
	}

	aggregator := core.NewAggregator(dbStore, logger)
	repo := core.NewMealRepository(dbStore, aggregator, analysisClient, drafts, logger)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(repo, cfg.AllowedOrigins...)
	router := api.NewRouter(apiHandler, logger)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,                      // image uploads
		WriteTimeout: cfg.AnalysisTimeout + 15*time.Second, // analysis calls can take time
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "addr", serverAddr, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Deferred closes run in reverse: forwarder, cache sweeper, analysis client, store.
	logger.Info("Server exiting gracefully")
	return nil
}

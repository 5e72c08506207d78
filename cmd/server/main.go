package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/narraform-go/internal/config"
	"github.com/narraform-go/internal/handlers"
	"github.com/narraform-go/internal/i18n"
	"github.com/narraform-go/internal/middleware"
	"github.com/narraform-go/internal/services/chapters"
	"github.com/narraform-go/internal/services/llm"
	"github.com/narraform-go/internal/services/prompts"
	"github.com/narraform-go/internal/services/ratelimit"
	"github.com/narraform-go/internal/services/storage"
	"github.com/narraform-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting NarraForm server...")

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	// Initialize rate governor with its durable history
	historyStore, err := ratelimit.NewHistoryStore(&cfg.RateLimit.History, storageManager.GetRedisClient(), log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize rate limit history store")
	}
	governor := ratelimit.NewGovernor(&cfg.RateLimit, historyStore, log)

	// Initialize prompt templates
	promptLibrary := prompts.NewLibrary(&cfg.Prompts, log)

	// Initialize LLM router
	router := llm.NewRouter(&cfg.Providers, governor, promptLibrary, log)
	if providers := router.Providers(); len(providers) == 0 {
		log.Warn("No AI provider credentials configured, conversion requests will fail")
	} else {
		log.WithField("providers", providers).Info("AI providers configured")
	}

	// Initialize chapter cache
	loader := chapters.NewLoader(storageManager, cfg.Cache.MaxChapters, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize API rate limiter
	apiLimiter := middleware.NewRateLimiter(&cfg.Server.APIRateLimit, log)

	// Initialize handlers and routes
	handler := handlers.NewHandler(router, loader, governor, storageManager, localizer, metrics, log)

	muxRouter := mux.NewRouter()
	muxRouter.Use(apiLimiter.Middleware, metrics.HTTPMiddleware)
	handler.RegisterRoutes(muxRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      muxRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Forced shutdown")
	}

	log.Info("Server stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"club-events-backend/config"
	"club-events-backend/internal/api"
	"club-events-backend/internal/attr"
	"club-events-backend/internal/db"
	"club-events-backend/internal/eligibility"
	"club-events-backend/internal/feature"
	"club-events-backend/internal/metrics"
	"club-events-backend/internal/notification"
	"club-events-backend/internal/recurrence"
	"club-events-backend/internal/registration"
	"club-events-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "club-events ", log.LstdFlags)

	if err := godotenv.Load(); err == nil {
		logger.Println("environment loaded from .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Printf("VAPID keys are not configured; promotion notifications are disabled")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	attributes := attr.NewCachedStore(attr.NewGormStore(gormDB),
		time.Duration(cfg.Registration.AttributeCacheSeconds)*time.Second)
	evaluator := eligibility.NewEvaluator(attributes, cfg.Registration.DivingLevels, cfg.Registration.CertificateValidityDays)

	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	opts := []registration.Option{registration.WithMetrics(appMetrics)}
	if cfg.Registration.DisableWaitingList {
		opts = append(opts, registration.WithoutWaitingList())
	}
	manager := registration.NewManager(appStore, evaluator, opts...)
	series := recurrence.NewService(appStore, cfg.Registration.MaxOccurrences).WithMetrics(appMetrics)

	services := api.Services{
		Series:        series,
		Registrations: manager,
		Eligibility:   evaluator,
	}
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
		workerPool.Start(ctx)
		services.Notifier = workerPool
	}

	toggles := feature.NewToggles(cfg.Modules)
	logger.Printf("enabled modules: %v", toggles.Snapshot())

	handler := api.NewHandler(appStore, services, &webpushOptions)
	router := api.NewRouter(handler, cfg.Server, toggles, prometheus.DefaultGatherer)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

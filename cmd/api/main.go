package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/respicare/ai-service/internal/api"
	"github.com/respicare/ai-service/internal/cache"
	"github.com/respicare/ai-service/internal/database"
	"github.com/respicare/ai-service/internal/service"
	"github.com/respicare/ai-service/internal/strategies"
	"github.com/respicare/ai-service/pkg/alerting"
	"github.com/respicare/ai-service/pkg/config"
	"github.com/respicare/ai-service/pkg/logging"
	"github.com/respicare/ai-service/pkg/metrics"
	"github.com/respicare/ai-service/pkg/resilience"
	"github.com/respicare/ai-service/pkg/tracing"
)

func main() {
	// A missing .env file is fine; the environment may be set directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "respicare-ai-service",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	tracer, err := tracing.NewService(&tracing.Config{
		ServiceName:    "respicare-ai-service",
		ServiceVersion: "1.0.0",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "migrations"
	}
	migrator, err := database.NewMigrator(&cfg.Database, migrationsPath)
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if err := migrator.Close(); err != nil {
		log.Printf("Failed to close migrator: %v", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.Health(ctx); err != nil {
		log.Fatalf("Database health check failed: %v", err)
	}
	cancel()
	log.Println("Database connection established")

	redis, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()
	log.Println("Redis connection established")

	cacheService := cache.NewService(redis, nil)

	alerter := alerting.NewService(logger, nil)
	if webhookURL := os.Getenv("ALERT_WEBHOOK_URL"); webhookURL != "" {
		alerter.AddChannel(alerting.NewWebhookChannel(webhookURL, nil))
	}
	if slackURL := os.Getenv("ALERT_SLACK_WEBHOOK_URL"); slackURL != "" {
		alerter.AddChannel(alerting.NewSlackChannel(slackURL, os.Getenv("ALERT_SLACK_CHANNEL"), "respicare-ai"))
	}
	alertOnBreaker := alerter.BreakerStateChange()

	breakers := resilience.NewRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			m.UpdateCircuitBreakerState(name, int(to))
			if to == resilience.StateOpen {
				m.RecordCircuitBreakerTrip(name)
			}
			alertOnBreaker(name, from, to)
		},
	})

	factory := strategies.NewFactory(cfg, breakers)
	backends := factory.BuildBackends(context.Background())
	composer, err := factory.BuildComposer(backends)
	if err != nil {
		log.Fatalf("Failed to build analysis strategies: %v", err)
	}

	registry := strategies.NewRegistry()
	for _, backend := range backends {
		registry.Register(backend)
	}
	// The composer is tracked too so composite failures show up in the
	// health surface alongside the per-backend bookkeeping.
	registry.Register(composer)

	manager := service.NewManager(service.Deps{
		Config:    cfg,
		Composer:  composer,
		Registry:  registry,
		Breakers:  breakers,
		Histories: database.NewMedicalHistoryRepository(db),
		Results:   database.NewAnalysisResultRepository(db),
		Patients:  database.NewPatientRepository(db),
		Cache:     cacheService,
		Metrics:   m,
	})

	health := service.NewHealthChecker(db, redis, breakers)

	router := api.NewRouter(api.RouterDeps{
		Config:  cfg,
		Service: manager,
		Health:  health,
		Redis:   redis,
		Metrics: m,
		Logger:  logger,
		Tracing: tracer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting API server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

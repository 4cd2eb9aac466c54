package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"audiovault/internal/auth"
	"audiovault/internal/config"
	"audiovault/internal/domain"
	"audiovault/internal/handler"
	"audiovault/internal/metrics"
	"audiovault/internal/repository"
	"audiovault/internal/service"
	"audiovault/internal/service/s3"
)

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	// The service database may not exist on a fresh install; bootstrap it
	// through the always-present postgres database first.
	pgDSN := strings.Replace(dsn, "dbname=audiovault", "dbname=postgres", 1)
	pgDB, err := sqlx.Connect("postgres", pgDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres database: %v", err)
	}
	defer pgDB.Close()

	var exists bool
	err = pgDB.Get(&exists, "SELECT EXISTS(SELECT datname FROM pg_catalog.pg_database WHERE datname = 'audiovault')")
	if err != nil {
		return nil, fmt.Errorf("failed to check database existence: %v", err)
	}

	if !exists {
		log.Println("Database audiovault does not exist, creating...")
		_, err = pgDB.Exec("CREATE DATABASE audiovault")
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	var db *sqlx.DB
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %v", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", databaseURL)
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func main() {
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := connectWithRetry(appConfig.Database.GetDSN(), 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer db.Close()

	if err := runMigrations(appConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		log.Fatalf("Failed to load S3 config: %v", err)
	}

	s3Client, err := s3.NewClient(s3Config, logger)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	authConfig, err := auth.NewConfig(".auth.env")
	if err != nil {
		log.Fatalf("Failed to load auth config: %v", err)
	}
	auth.Init(authConfig.JWTSecret)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Repositories
	accountRepo := repository.NewAccountRepository(db, appConfig.Billing.InitialCredits, appConfig.Quota.DefaultBytes)
	registryRepo := repository.NewRegistryRepository(db)

	// Services
	ledger := service.NewCreditLedger(accountRepo, m, logger)
	quota := service.NewQuotaTracker(accountRepo, registryRepo, appConfig.Quota.Strict, logger)
	registry := service.NewFileRegistry(registryRepo, s3Client, logger)
	reconciler := service.NewReconciler(registryRepo, s3Client, m, logger)

	merger, err := service.NewAudioMerger(
		appConfig.Export.WorkDir,
		appConfig.Export.AudioCodec,
		appConfig.Export.Format,
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to create audio merger: %v", err)
	}

	var policy service.AuthorizationPolicy
	if appConfig.Billing.Enforce {
		policy = service.NewLedgerPolicy(ledger)
	} else {
		logger.Warn("billing enforcement disabled, using bypass policy")
		policy = service.NewBypassPolicy()
	}

	executors := map[domain.ActionKind]service.Executor{
		domain.ActionUpload: service.NewUploadExecutor(s3Client, logger),
		domain.ActionParse:  service.NewParseExecutor(logger),
		domain.ActionExport: service.NewExportExecutor(registryRepo, s3Client, merger, logger),
	}

	gateway := service.NewActionGateway(
		policy,
		quota,
		registryRepo,
		s3Client,
		executors,
		service.ActionCosts{
			Upload:        appConfig.Billing.UploadCost,
			Parse:         appConfig.Billing.ParseCost,
			Export:        appConfig.Billing.ExportCost,
			BillReuploads: appConfig.Billing.BillReuploads,
		},
		m,
		logger,
	)

	// Handlers
	actionHandler := handler.NewActionHandler(gateway, logger)
	creditHandler := handler.NewCreditHandler(ledger, appConfig.Billing.WebhookSecret, logger)
	quotaHandler := handler.NewQuotaHandler(quota)
	objectHandler := handler.NewObjectHandler(registry)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/actions", func(r chi.Router) {
			r.Post("/upload", actionHandler.UploadAudio)
			r.Post("/parse", actionHandler.ProcessDocument)
			r.Post("/export", actionHandler.ExportAudiobook)
		})

		r.Route("/objects", func(r chi.Router) {
			r.Get("/", objectHandler.ListObjects)
			r.Get("/{ref}/url", objectHandler.GetSignedURL)
			r.Delete("/{ref}", objectHandler.DeleteObject)
		})

		r.Route("/credits", func(r chi.Router) {
			r.Get("/", creditHandler.GetCredits)
			r.Get("/history", creditHandler.GetHistory)
			r.Post("/webhook", creditHandler.Webhook)
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", quotaHandler.GetQuotaInfo)
			r.Put("/limit", quotaHandler.UpdateQuotaLimit)
			r.Post("/recalculate", quotaHandler.Recalculate)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting HTTP server", zap.String("port", appConfig.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Hourly sweep for blobs whose logical rows are gone but whose physical
	// deletion failed.
	stopSweep := make(chan struct{})
	sweepTicker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-sweepTicker.C:
				ctx := context.Background()
				if err := reconciler.Sweep(ctx); err != nil {
					logger.Error("orphan sweep failed", zap.Error(err))
				}
			case <-stopSweep:
				sweepTicker.Stop()
				return
			}
		}
	}()

	<-quit
	close(stopSweep)
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	if err := db.Close(); err != nil {
		logger.Error("error closing database connection", zap.Error(err))
	}

	logger.Info("server exited properly")
}

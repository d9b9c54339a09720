package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/eldercare-dispatch/internal/alerts"
	"github.com/example/eldercare-dispatch/internal/billing"
	"github.com/example/eldercare-dispatch/internal/config"
	"github.com/example/eldercare-dispatch/internal/directory"
	"github.com/example/eldercare-dispatch/internal/dispatch"
	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/fleet"
	"github.com/example/eldercare-dispatch/internal/geo"
	"github.com/example/eldercare-dispatch/internal/httpapi"
	"github.com/example/eldercare-dispatch/internal/ingest"
	"github.com/example/eldercare-dispatch/internal/logging"
	"github.com/example/eldercare-dispatch/internal/notify"
	"github.com/example/eldercare-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		if cfg.RunMigrations {
			runMigrations(cfg.PGDSN)
		}
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var tracker geo.Tracker
	if cfg.RedisAddr != "" {
		tracker = geo.NewRedisTracker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		tracker = geo.NewIndex()
	}

	var pings fleet.PingPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		pings = kp
	}

	var email notify.EmailSender = notify.NopSender{}
	if cfg.EmailGatewayURL != "" {
		email = notify.NewHTTPEmailSender(cfg.EmailGatewayURL, cfg.EmailGatewayKey)
	}

	if os.Getenv("STRIPE_API_KEY") != "" {
		_ = billing.NewStripeClient()
		logger.Info("subscription billing collaborator configured")
	}

	// the platform's identity services are consumed behind these interfaces;
	// the static directory serves local runs
	dir := directory.NewStatic()

	hub := fabric.NewHub(logger)
	defer hub.Close()

	alertsSvc := &alerts.Service{Store: store, Fabric: hub, Log: logger}
	dispSvc := &dispatch.Service{
		Store:       store,
		Fabric:      hub,
		Users:       dir,
		Elders:      dir,
		Email:       email,
		Log:         logger,
		AvgSpeedKmh: cfg.AvgSpeedKmh,
	}
	fleetSvc := &fleet.Service{Store: store, Fabric: hub, Pings: pings, Tracker: tracker, Log: logger}

	srv := httpapi.NewServer(logger, alertsSvc, dispSvc, fleetSvc, hub)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("dispatch engine listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runMigrations applies the schema file when MIGRATE=true; failures are
// logged, not fatal, so a concurrently-migrated database does not block boot.
func runMigrations(dsn string) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Printf("migration db open error: %v", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_dispatch_schema.sql"))
	if err != nil {
		log.Printf("migration read error: %v", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		log.Printf("migration exec error: %v", err)
		return
	}
	log.Printf("migration applied: 001_create_dispatch_schema.sql")
}

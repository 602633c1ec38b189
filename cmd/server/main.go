package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/tracelift/internal/api"
	"github.com/rpattn/tracelift/internal/config"
	"github.com/rpattn/tracelift/internal/db"
	"github.com/rpattn/tracelift/internal/ingestion"
	"github.com/rpattn/tracelift/internal/lifecycle"
	"github.com/rpattn/tracelift/internal/middleware"
	"github.com/rpattn/tracelift/internal/queue"
	"github.com/rpattn/tracelift/internal/repository"
	"github.com/rpattn/tracelift/internal/storage"

	"github.com/rs/cors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Repositories
	tracingRepo := repository.NewTracingRepository(conn.Pool)
	catalogRepo := repository.NewCatalogRepository(conn.Pool)
	tenantRepo := repository.NewTenantRepository(conn.Pool)

	// Core services
	engine := lifecycle.NewEngine(tracingRepo)
	reconciler := lifecycle.NewReconciler(tenantRepo, tracingRepo,
		lifecycle.WithRunTimeout(cfg.Reconciler.RunTimeout))

	pipelineOpts := []ingestion.Option{
		ingestion.WithRowParallelism(cfg.Pipeline.RowParallelism),
	}
	if cfg.AWS.Bucket != "" {
		bucket, err := storage.NewBucketReader(ctx, storage.Options{
			Region:   cfg.AWS.Region,
			Endpoint: cfg.AWS.Endpoint,
			Bucket:   cfg.AWS.Bucket,
			Prefix:   cfg.AWS.BucketPrefix,
		})
		if err != nil {
			log.Fatalf("Failed to create bucket reader: %v", err)
		}
		pipelineOpts = append(pipelineOpts, ingestion.WithFileFetcher(bucket))
	}
	pipeline := ingestion.NewService(catalogRepo, engine, pipelineOpts...)

	// Queue consumer for upload-completion events
	if cfg.AWS.ConsumerEnabled && cfg.AWS.QueueURL != "" {
		consumer, err := queue.NewConsumer(ctx, cfg.AWS.Region, cfg.AWS.Endpoint, cfg.AWS.QueueURL, pipeline,
			queue.WithProcessTimeout(cfg.Pipeline.ProcessTimeout))
		if err != nil {
			log.Fatalf("Failed to create queue consumer: %v", err)
		}
		go consumer.Run(ctx)
	}

	// Daily missing-tracing reconciliation
	if cfg.Reconciler.DailyEnabled {
		go reconciler.RunDaily(ctx)
	}

	// HTTP surface
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/tracings/submit", ingestion.NewHTTPHandler(tracingRepo, pipeline))
	mux.Handle("/", api.NewHandler(tracingRepo, engine, reconciler))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting tracing lifecycle server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

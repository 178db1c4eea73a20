// Command agent runs the autonomous research-assistant core: the queue
// worker pool draining user tasks through the five-stage pipeline, plus the
// optional REST façade for a synchronous single-cycle run.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/scholaragent/core/pkg/api"
	"github.com/scholaragent/core/pkg/config"
	"github.com/scholaragent/core/pkg/database"
	"github.com/scholaragent/core/pkg/llm"
	"github.com/scholaragent/core/pkg/notifier"
	"github.com/scholaragent/core/pkg/pipeline"
	"github.com/scholaragent/core/pkg/scheduler"
	"github.com/scholaragent/core/pkg/source"
	"github.com/scholaragent/core/pkg/store"
	"github.com/scholaragent/core/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to a directory holding an optional .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")

	st := store.New(dbClient)

	registry := source.NewRegistry(
		source.NewArxivAdapter(cfg.Sources.HTTPTimeout),
		source.NewScholarAdapter(cfg.Sources.HTTPTimeout, cfg.Sources.ScholarProxyBase),
		source.NewPubMedAdapter(cfg.Sources.HTTPTimeout, cfg.Sources.PubMedAPIKey),
		source.NewGitHubAdapter(cfg.Sources.HTTPTimeout, cfg.Sources.GitHubToken),
	)

	var gateway *llm.Gateway
	if cfg.LLM.APIKey != "" {
		gateway = llm.New(cfg.LLM)
		log.Println("✓ LLM gateway configured")
	} else {
		log.Println("No LLM_API_KEY set; strategy/analysis/decision stages will use heuristic fallbacks")
	}

	pl := pipeline.New(registry, gateway, st, cfg.Pipeline, cfg.LLM, cfg.Queue.InterArticlePacing, cfg.DryRun)
	notifySvc := notifier.NewService(st)
	pool := scheduler.NewWorkerPool(cfg.WorkerID, st, &cfg.Queue, pl, notifySvc)

	if err := pool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	log.Println("✓ Worker pool started")

	srv := api.New(pl)
	engine := srv.Engine()
	engine.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, dbErr := database.Health(reqCtx, dbClient.DB.DB)
		poolHealth := pool.Health()

		status := http.StatusOK
		if dbErr != nil || !poolHealth.IsHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":   poolHealth.IsHealthy && dbErr == nil,
			"version":  version.Full(),
			"database": dbHealth,
			"pool":     poolHealth,
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	go func() {
		log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining worker pool...")
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	}

	log.Println("Shutdown complete")
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/server"
	"github.com/engramdev/engram/internal/storage"
	"github.com/engramdev/engram/internal/storage/postgres"
	"github.com/engramdev/engram/internal/storage/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store := openStore(cfg)
	defer store.Close()

	embedder, err := llm.NewEmbeddingGenerator(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to create embedding provider: %v", err)
	}
	generator, err := llm.NewTextGenerator(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to create text provider: %v", err)
	}

	if hc, ok := embedder.(interface{ HealthCheck(context.Context) error }); ok {
		if err := hc.HealthCheck(context.Background()); err != nil {
			log.Printf("WARNING: embedding provider health check failed: %v", err)
		}
	}

	cache, err := embedding.NewCache(embedder, cfg.Provider.EmbedCacheEntries)
	if err != nil {
		log.Fatalf("Failed to create embedding cache: %v", err)
	}

	classifier := llm.NewIntentClassifier(generator)
	eng := engine.NewMemoryEngine(store, cache, classifier, engine.OptionsFromConfig(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg, eng)
	addr, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Engram memory service running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
}

// openStore builds the record store named by config. SQLite is the default;
// Postgres is selected with ENGRAM_STORAGE_ENGINE=postgres and a DSN.
func openStore(cfg *config.Config) storage.RecordStore {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		store, err := postgres.NewRecordStore(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres store: %v", err)
		}
		return store
	case "sqlite", "":
		store, err := sqlite.NewRecordStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		return store
	default:
		log.Fatalf("Unknown storage engine %q", cfg.Storage.StorageEngine)
		return nil
	}
}

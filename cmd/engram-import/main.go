package main

import (
	"context"
	"flag"
	"log"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/importer"
	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/internal/storage/postgres"
	"github.com/engramdev/engram/internal/storage/sqlite"
)

func main() {
	dir := flag.String("dir", "", "Directory of Markdown files to import")
	flag.Parse()

	if *dir == "" {
		log.Fatal("Usage: engram-import -dir <path>")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	eng, store := buildEngine(cfg)
	defer store.Close()

	result, err := importer.New(eng).ImportDir(context.Background(), *dir)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	log.Printf("Imported %d statements from %d files (%d duplicates skipped, %d failed)",
		result.Imported, result.Files, result.Duplicates, result.Failed)
}

func buildEngine(cfg *config.Config) (*engine.MemoryEngine, interface{ Close() error }) {
	embedder, err := llm.NewEmbeddingGenerator(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to create embedding provider: %v", err)
	}
	cache, err := embedding.NewCache(embedder, cfg.Provider.EmbedCacheEntries)
	if err != nil {
		log.Fatalf("Failed to create embedding cache: %v", err)
	}

	switch cfg.Storage.StorageEngine {
	case "postgres":
		store, err := postgres.NewRecordStore(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres store: %v", err)
		}
		return engine.NewMemoryEngine(store, cache, nil, engine.OptionsFromConfig(cfg)), store
	default:
		store, err := sqlite.NewRecordStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		return engine.NewMemoryEngine(store, cache, nil, engine.OptionsFromConfig(cfg)), store
	}
}

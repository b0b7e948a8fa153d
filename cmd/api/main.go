package main

import (
	"fmt"
	"log"
	"os"

	"github.com/doratrack/doratrack/internal/api"
	"github.com/doratrack/doratrack/internal/config"
	"github.com/doratrack/doratrack/internal/pipeline"
	"github.com/doratrack/doratrack/internal/report"
	"github.com/doratrack/doratrack/internal/source"
	"github.com/doratrack/doratrack/internal/storage"
	"github.com/doratrack/doratrack/internal/storage/postgres"
	"github.com/doratrack/doratrack/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize storage
	var store storage.Store
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	// Initialize sources
	sources, err := buildSources(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize sources: %v", err)
	}

	// Initialize pipeline
	var reporters []pipeline.Reporter
	if cfg.SlackWebhookURL != "" {
		reporters = append(reporters, report.NewSlackNotifier(cfg.SlackWebhookURL))
	}
	p := pipeline.NewPipeline(sources, store, reporters...)
	b := pipeline.NewBackfill(p, cfg.BackfillDelay)
	registry := pipeline.NewRegistry()

	// Initialize handler
	handler := api.NewHandler(store, p, b, registry)

	// Setup routes
	router := api.SetupRoutes(handler)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	fmt.Printf("Starting API server on %s\n", addr)
	fmt.Printf("Storage type: %s\n", cfg.StorageType)

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}

// buildSources wires up every source that has credentials configured.
// GitHub is required; incident sources are optional.
func buildSources(cfg *config.Config) (source.Set, error) {
	var set source.Set

	gh, err := source.NewGitHub(cfg.GitHubToken, cfg.GitHubOrg, cfg.SourceDelay)
	if err != nil {
		return set, err
	}
	set.Deployments = append(set.Deployments, gh)
	set.Changes = append(set.Changes, gh)

	if cfg.IncidentIOAPIKey != "" {
		inc, err := source.NewIncidentIO(cfg.IncidentIOAPIKey, cfg.IncidentChangeRelatedDefault, cfg.SourceDelay)
		if err != nil {
			return set, err
		}
		set.Incidents = append(set.Incidents, inc)
	}

	if cfg.LinearAPIKey != "" {
		lin, err := source.NewLinear(cfg.LinearAPIKey, cfg.IncidentChangeRelatedDefault, cfg.SourceDelay)
		if err != nil {
			return set, err
		}
		set.Incidents = append(set.Incidents, lin)
	}

	if cfg.SlabAPIToken != "" && cfg.SlabTeamID != "" {
		slab, err := source.NewSlab(cfg.SlabAPIToken, cfg.SlabTeamID, cfg.IncidentChangeRelatedDefault, cfg.SourceDelay)
		if err != nil {
			return set, err
		}
		set.Incidents = append(set.Incidents, slab)
	}

	return set, nil
}

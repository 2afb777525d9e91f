package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lgd-analytics/maude-signals/api"
	"github.com/lgd-analytics/maude-signals/config"
	"github.com/lgd-analytics/maude-signals/etl"
	"github.com/lgd-analytics/maude-signals/eventstore"
	"github.com/lgd-analytics/maude-signals/groups"
	"github.com/lgd-analytics/maude-signals/jobs"
	"github.com/lgd-analytics/maude-signals/mart"
	"github.com/lgd-analytics/maude-signals/signals"
)

func main() {
	mockFlag := flag.Bool("mock", false, "Generate mock data and exit")
	flag.Parse()

	fmt.Println("=== MAUDE Signal Detection Engine ===")

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Configuration loaded")

	store := eventstore.New(cfg.DuckDBPath, cfg.AppDBPath)
	if err := store.Open(cfg.AppDBPath); err != nil {
		log.Fatalf("Failed to initialize event store: %v", err)
	}
	defer store.Close()
	log.Println("✓ Event store schema applied")

	if *mockFlag {
		if err := etl.RunMockGeneration(store, cfg); err != nil {
			log.Fatalf("Mock generation failed: %v", err)
		}
		return
	}

	registry := groups.NewRegistry(store.App)
	if err := registry.CreateSchema(); err != nil {
		log.Fatalf("Failed to create entity group schema: %v", err)
	}
	if err := registry.Load(); err != nil {
		log.Fatalf("Failed to load entity groups: %v", err)
	}
	for _, seed := range cfg.GroupSeedManager.All() {
		if err := registry.SeedBuiltIn(seed.Name, groups.EntityType(seed.EntityType), seed.Members, seed.DisplayName); err != nil {
			log.Printf("Warning: failed to seed built-in group %s: %v", seed.Name, err)
		}
	}
	log.Println("✓ Entity group registry ready")

	workerPool := jobs.NewWorkerPool(cfg.WorkerPoolSize)
	defer workerPool.Stop()
	fmt.Printf("✓ Worker pool started with %d workers\n", cfg.WorkerPoolSize)

	martBuilder := mart.NewMartBuilder(store)
	ingestor := etl.NewDataIngestor(cfg, store)

	scheduler := etl.NewScheduler(cfg, martBuilder, store)
	scheduler.Start()
	defer scheduler.Stop()
	fmt.Println("✓ Scheduler started")

	// Auto-seed mock data on first run so the engine has something to
	// detect signals against out of the box.
	if cfg.MockData.Enabled && !*mockFlag {
		db, err := store.Events()
		if err == nil {
			var count int
			if scanErr := db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); scanErr == nil && count == 0 {
				log.Println("No events found, generating mock data...")
				if err := etl.RunMockGeneration(store, cfg); err != nil {
					log.Printf("Failed to generate mock data: %v", err)
				} else {
					log.Println("✓ Mock data generated")
				}
			}
		}
	}

	log.Println("Building entity_month_rollup mart...")
	go func() {
		if _, err := martBuilder.Refresh(); err != nil {
			log.Printf("Failed to refresh mart: %v", err)
		} else {
			log.Println("✓ Mart ready")
		}
	}()

	engine := signals.NewEngine(store, registry, cfg.IngestionLagMonths)
	cache := signals.NewCache(store.App, time.Duration(cfg.CacheTTLHours)*time.Hour)
	metrics := api.NewMetricsRegistry()

	handler := api.NewHandler(store, cfg, registry, engine, cache, martBuilder, ingestor, workerPool, metrics)

	router := api.SetupRouter(handler)
	router.Use(api.CORSMiddleware())
	router.Use(api.LoggingMiddleware())

	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		fmt.Printf("✓ API server listening on %s\n", addr)
		fmt.Println("\nAPI Endpoints:")
		fmt.Println("  GET  /health")
		fmt.Println("  POST /api/analytics/signals/advanced")
		fmt.Println("  GET  /api/analytics/signals")
		fmt.Println("  POST /api/analytics/signals/jobs")
		fmt.Println("  GET  /api/analytics/signals/jobs/{id}")
		fmt.Println("  GET  /api/entity-groups")
		fmt.Println("  POST /api/entity-groups")
		fmt.Println("  POST /api/ingest")
		fmt.Println("  POST /api/mart/refresh")
		fmt.Println("\nPress Ctrl+C to shutdown")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		fmt.Printf("Server forced to shutdown: %v\n", err)
	}

	fmt.Println("Server exited")
}

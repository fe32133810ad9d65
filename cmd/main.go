package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"harvester/internal/browser"
	"harvester/internal/config"
	"harvester/internal/dedup"
	"harvester/internal/engine"
	"harvester/internal/enrich"
	"harvester/internal/logger"
	"harvester/internal/platform/postgres"
	rds "harvester/internal/platform/redis"
	tasks "harvester/internal/platform/tasks"
	"harvester/internal/run"
	"harvester/internal/server"
	"harvester/internal/source"
	"harvester/internal/store"
	"harvester/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[harvester] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.Environment)

	// Initialize logger
	logr := logger.New("main")

	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Persistence: postgres when configured, in-memory otherwise.
	var (
		st     store.Store
		pgPool *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		pgPool, err = postgres.NewPool(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pgPool.Close()
		pg := store.NewPostgres(pgPool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		st = pg
	} else {
		logr.LogWarnf("DATABASE_URL not set, records are kept in memory only")
		st = store.NewMemory()
	}

	// Extraction modules: the built-in mock board plus any configured
	// HTML boards. A missing sources file is fine; a broken one is not.
	registry := source.NewRegistry()
	registry.Register(source.NewMockBoard("mock-board", 150))
	if _, statErr := os.Stat(cfg.SourcesFile); statErr == nil {
		if err := registry.LoadFile(cfg.SourcesFile); err != nil {
			log.Fatalf("sources file: %v", err)
		}
	} else {
		logr.LogDebugf("No sources file at %s, only built-in sources registered", cfg.SourcesFile)
	}

	var enricher dedup.Enricher
	if cfg.EnrichPhoneURL != "" {
		enricher = enrich.New(cfg.EnrichPhoneURL, cfg.EnrichPhoneToken)
		logr.LogInfof("Phone enrichment enabled via %s", cfg.EnrichPhoneURL)
	}

	eng := engine.New(engine.Config{
		Workers:       cfg.ScrapeWorkers,
		MaxPages:      cfg.ScrapeMaxPages,
		PageTimeoutMs: cfg.ScrapePageTimeoutMs,
		PolitenessMs:  cfg.ScrapePolitenessMs,
		StaggerMs:     cfg.ScrapeStaggerMs,
		MaxRetries:    cfg.ScrapeMaxRetries,
	}, registry, st, browser.PlaywrightFactory(browser.Options{
		Headless:  cfg.ScrapeHeadless,
		UserAgent: cfg.ScrapeUserAgent,
	}), enricher)

	// Asynq client and server
	taskClient := tasks.New(redisSvc)
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{tasks.QueueScrapes: 1},
	})

	runSvc := run.NewService(redisSvc, taskClient, eng)

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeScrapeRun, runSvc.HandleScrapeRunTask)

	// Start worker
	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// Scheduled unattended runs across every registered source.
	var scheduler *cron.Cron
	if cfg.ScrapeCron != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.ScrapeCron, func() {
			id, err := runSvc.Enqueue(context.Background(), engine.Options{
				Sources:     registry.Names(),
				SkipConfirm: true,
			})
			if err != nil {
				logr.LogWarnf("Scheduled run not enqueued: %v", err)
				return
			}
			logr.LogInfof("Scheduled run %s enqueued", id)
		})
		if err != nil {
			log.Fatalf("invalid SCRAPE_CRON %q: %v", cfg.ScrapeCron, err)
		}
		scheduler.Start()
		logr.LogInfof("Scheduler active: %s", cfg.ScrapeCron)
	}

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Harvester Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Runs:     runSvc,
		Sources:  registry,
		Redis:    redisSvc,
		Postgres: pgPool,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(5 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		if scheduler != nil {
			scheduler.Stop()
		}
		eng.Stop()
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}

package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	HTTPAddr    string

	RedisAddr     string
	RedisPassword string

	// DatabaseURL is optional: when empty the engine runs against the
	// in-memory store, which is enough for local development and demos.
	DatabaseURL string

	SourcesFile string

	ScrapeWorkers       int
	ScrapeMaxPages      int
	ScrapePageTimeoutMs int
	ScrapePolitenessMs  int
	ScrapeStaggerMs     int
	ScrapeMaxRetries    int
	ScrapeHeadless      bool
	ScrapeUserAgent     string
	ScrapeCron          string

	EnrichPhoneURL   string
	EnrichPhoneToken string

	WorkerConcurrency int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func Load() Config {
	// Best effort: a missing .env is the normal case in deployment.
	_ = godotenv.Load()

	cfg := Config{
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    ":" + getenv("PORT", "8080"),

		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		SourcesFile: getenv("SOURCES_FILE", "sources.yaml"),

		ScrapeWorkers:       getenvInt("SCRAPE_WORKERS", 3),
		ScrapeMaxPages:      getenvInt("SCRAPE_MAX_PAGES", 5),
		ScrapePageTimeoutMs: getenvInt("SCRAPE_PAGE_TIMEOUT_MS", 10000),
		ScrapePolitenessMs:  getenvInt("SCRAPE_POLITENESS_MS", 1500),
		ScrapeStaggerMs:     getenvInt("SCRAPE_STAGGER_MS", 2000),
		ScrapeMaxRetries:    getenvInt("SCRAPE_MAX_RETRIES", 3),
		ScrapeHeadless:      getenvBool("SCRAPE_HEADLESS", true),
		ScrapeUserAgent:     os.Getenv("SCRAPE_USER_AGENT"),
		ScrapeCron:          os.Getenv("SCRAPE_CRON"),

		EnrichPhoneURL:   os.Getenv("ENRICH_PHONE_URL"),
		EnrichPhoneToken: os.Getenv("ENRICH_PHONE_TOKEN"),

		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 2),
	}
	return cfg
}

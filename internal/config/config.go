package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	MongoURI           string
	MongoDatabase      string
	GoogleClientID     string
	GoogleClientSecret string

	// Tunables. Defaults are starting points, not design constants; adjust
	// against the target mailbox API's actual rate limits.
	PageSize           int           // thread-id stubs requested per discovery page
	HydrateConcurrency int           // parallel full-thread fetches per page
	UploadConcurrency  int           // parallel blob uploads per sub-batch
	SyncDeadline       time.Duration // wall-clock budget for one continuous run
	MaxRetries         int           // attempts for transient record-store/API failures
	RetryBackoff       time.Duration // base backoff, doubled per attempt
	PollInterval       time.Duration // watcher poll period
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}

	googleClientID := os.Getenv("GOOGLE_CLIENT_ID")
	googleClientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	if googleClientID == "" || googleClientSecret == "" {
		fmt.Println("Warning: GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set, mailbox API will not work")
	}

	return &Config{
		DatabaseURL:        dbURL,
		MongoURI:           mongoURI,
		MongoDatabase:      envString("MONGO_DATABASE", "mailblobs"),
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
		PageSize:           envInt("SYNC_PAGE_SIZE", 20),
		HydrateConcurrency: envInt("SYNC_HYDRATE_CONCURRENCY", 5),
		UploadConcurrency:  envInt("SYNC_UPLOAD_CONCURRENCY", 4),
		SyncDeadline:       envSeconds("SYNC_DEADLINE_SECONDS", 50),
		MaxRetries:         envInt("SYNC_MAX_RETRIES", 3),
		RetryBackoff:       envSeconds("SYNC_RETRY_BACKOFF_SECONDS", 1),
		PollInterval:       envSeconds("POLL_INTERVAL_SECONDS", 10),
		ShutdownTimeout:    envSeconds("SHUTDOWN_TIMEOUT_SECONDS", 30),
	}, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		fmt.Printf("Warning: invalid %s=%q, using default %d\n", key, v, fallback)
		return fallback
	}
	return n
}

func envSeconds(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Second
}

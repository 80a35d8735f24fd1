package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env              string
	ListenAddr       string
	DatabaseURL      string
	LogLevel         string
	RiskWorkers      int
	RiskPollInterval time.Duration
	// RiskJobLease is how long a running job may go without finishing before it is reclaimed.
	RiskJobLease time.Duration
	// CatalogPath replaces the embedded clause catalog when set.
	CatalogPath    string
	MigrateOnStart bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment after merging envFiles (default ".env") into it.
// Variables already set in the process win over file values; missing files are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := Config{
		Env:              getenv("APP_ENV", "development"),
		ListenAddr:       getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		RiskWorkers:      getenvInt("RISK_WORKERS", 2),
		RiskPollInterval: getenvDuration("RISK_POLL_INTERVAL", 500*time.Millisecond),
		RiskJobLease:     getenvDuration("RISK_JOB_LEASE", 10*time.Minute),
		CatalogPath:      os.Getenv("RISK_CATALOG_PATH"),
		MigrateOnStart:   getenvBool("MIGRATE_ON_START", false),
	}
	if cfg.DatabaseURL == "" {
		// Not fatal for early local runs; warn via error value so callers can decide.
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"academia-backend/internal/tracker"
)

const (
	ChangeStreamPostgres = "postgres"
	ChangeStreamRedis    = "redis"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL      string
	DatabaseMaxConns int
	MigrationsPath   string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Realtime
	ChangeStream string

	// Logging and metrics
	LogConfig      string
	MetricsEnabled bool

	// Study time tracking
	Tracker tracker.Config

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		Env:              getEnvOrDefault("ENV", "development"),
		DatabaseURL:      mustGetEnv("DATABASE_URL"),
		MigrationsPath:   getEnvOrDefault("MIGRATIONS_PATH", "migrations"),
		DatabaseMaxConns: getEnvAsIntOrDefault("DB_MAX_CONNS", 50),
		RedisURL:         mustGetEnv("REDIS_URL"),
		JWTSecret:        mustGetEnv("JWT_SECRET"),
		ChangeStream:     getEnvOrDefault("CHANGE_STREAM", ChangeStreamPostgres),
		LogConfig:        getEnvOrDefault("LOG_CONFIG", "<root>=INFO"),
		MetricsEnabled:   getEnvAsBoolOrDefault("METRICS_ENABLED", true),
		FrontendURL:      getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.ChangeStream != ChangeStreamPostgres && cfg.ChangeStream != ChangeStreamRedis {
		panic(fmt.Sprintf("CHANGE_STREAM must be %q or %q, got %q", ChangeStreamPostgres, ChangeStreamRedis, cfg.ChangeStream))
	}

	trackerCfg, err := loadTrackerConfig(getEnvOrDefault("TRACKER_CONFIG", ""))
	if err != nil {
		panic(err.Error())
	}
	cfg.Tracker = trackerCfg

	return cfg
}

// loadTrackerConfig starts from the tracker defaults, applies the optional
// YAML file at path and then the TRACKER_* environment variables.
func loadTrackerConfig(path string) (tracker.Config, error) {
	cfg := tracker.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read tracker config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse tracker config %s: %w", path, err)
		}
	}

	cfg.AutoSaveInterval = getEnvAsDurationOrDefault("TRACKER_AUTO_SAVE_INTERVAL", cfg.AutoSaveInterval)
	cfg.MinSessionDuration = getEnvAsDurationOrDefault("TRACKER_MIN_SESSION_DURATION", cfg.MinSessionDuration)
	cfg.IdleThreshold = getEnvAsDurationOrDefault("TRACKER_IDLE_THRESHOLD", cfg.IdleThreshold)
	cfg.HiddenStopAfter = getEnvAsDurationOrDefault("TRACKER_HIDDEN_STOP_AFTER", cfg.HiddenStopAfter)
	cfg.SessionType = getEnvOrDefault("TRACKER_SESSION_TYPE", cfg.SessionType)

	return cfg, nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("90s", "5m") or a bare
// number of seconds.
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n := getEnvAsIntOrDefault(key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

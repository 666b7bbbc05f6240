package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"recurbot/internal/scheduler"
)

// Config holds application configuration
type Config struct {
	DatabasePath string
	Addr         string
	Workers      int
	WorkerPoll   time.Duration
	// PollSpec is the cron spec the scheduler polls for due events on.
	PollSpec      string
	MaxLateness   time.Duration
	MissThreshold int
	MaxAttempts   int
	// EventsFile is an optional YAML file synced into the store at startup.
	EventsFile  string
	LogLevel    string
	CORSOrigins []string
	Debug       bool
}

var (
	ErrNoDatabase = errors.New("database path is required")
	ErrWorkers    = errors.New("workers must be at least 1")
	ErrDuration   = errors.New("duration must be positive")
)

// Load reads configuration from the environment, after loading a .env file
// if there is one.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:  getEnv("RECURBOT_DB", "recurbot.db"),
		Addr:          getEnv("RECURBOT_ADDR", ":8080"),
		Workers:       getEnvAsInt("RECURBOT_WORKERS", 4),
		WorkerPoll:    getEnvAsDuration("RECURBOT_WORKER_POLL", 500*time.Millisecond),
		PollSpec:      getEnv("RECURBOT_POLL_SPEC", "@every 30s"),
		MaxLateness:   getEnvAsDuration("RECURBOT_MAX_LATENESS", 5*time.Minute),
		MissThreshold: getEnvAsInt("RECURBOT_MISS_THRESHOLD", 3),
		MaxAttempts:   getEnvAsInt("RECURBOT_MAX_ATTEMPTS", 5),
		EventsFile:    getEnv("RECURBOT_EVENTS_FILE", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		CORSOrigins:   getEnvAsList("RECURBOT_CORS_ORIGINS"),
		Debug:         getEnvAsBool("RECURBOT_DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return ErrNoDatabase
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: %d", ErrWorkers, c.Workers)
	}
	if c.WorkerPoll <= 0 {
		return fmt.Errorf("worker poll: %w", ErrDuration)
	}
	if c.MaxLateness <= 0 {
		return fmt.Errorf("max lateness: %w", ErrDuration)
	}
	if err := scheduler.ValidatePollSpec(c.PollSpec); err != nil {
		return fmt.Errorf("poll spec %q: %w", c.PollSpec, err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Scheduler returns the scheduler settings.
func (c *Config) Scheduler() scheduler.Config {
	return scheduler.Config{
		PollSpec:      c.PollSpec,
		MaxLateness:   c.MaxLateness,
		MissThreshold: c.MissThreshold,
		MaxAttempts:   c.MaxAttempts,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

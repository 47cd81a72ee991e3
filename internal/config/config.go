package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the TrackPulse server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Hub      HubConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	Backend     string // "redis" or "postgres"
	Name        string
	DedupWindow time.Duration
}

type HubConfig struct {
	WriteTimeout time.Duration
	SendBuffer   int
}

var validBackends = map[string]bool{
	"redis":    true,
	"postgres": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("TRACKPULSE_PORT", 8080),
			Env:  envString("TRACKPULSE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			Backend:     envString("TRACKPULSE_QUEUE_BACKEND", "redis"),
			Name:        envString("TRACKPULSE_QUEUE_NAME", "analysis"),
			DedupWindow: envDuration("TRACKPULSE_QUEUE_DEDUP_WINDOW", 5*time.Minute),
		},
		Hub: HubConfig{
			WriteTimeout: envDuration("TRACKPULSE_HUB_WRITE_TIMEOUT", 10*time.Second),
			SendBuffer:   envInt("TRACKPULSE_HUB_SEND_BUFFER", 64),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("TRACKPULSE_QUEUE_BACKEND must be one of redis, postgres; got %q", c.Queue.Backend)
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("TRACKPULSE_QUEUE_NAME must not be empty")
	}

	if c.Hub.SendBuffer <= 0 {
		return fmt.Errorf("TRACKPULSE_HUB_SEND_BUFFER must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

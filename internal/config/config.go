// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds every setting the server needs.
type Config struct {
	ListenAddr string

	// DBPath is the SQLite file holding the archive overlay.
	DBPath string

	// FirestoreProject selects the Firestore backend. Empty runs against an
	// in-memory document store.
	FirestoreProject string

	JWTSecret string
	TokenTTL  time.Duration

	// AMQPURL enables settlement notifications over RabbitMQ. Empty logs
	// them instead.
	AMQPURL      string
	AMQPExchange string

	LogLevel  string
	LogFormat string
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Load reads the configuration. It fails on malformed values, never on
// missing ones.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DBPath:           getEnv("DB_PATH", "./data/tripsync.db"),
		FirestoreProject: os.Getenv("FIRESTORE_PROJECT"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret-change-me"),
		AMQPURL:          os.Getenv("AMQP_URL"),
		AMQPExchange:     getEnv("AMQP_EXCHANGE", "tripsync.events"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	ttl, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}
	if ttl <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL: %s is not positive", ttl)
	}
	cfg.TokenTTL = ttl

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT %q: want text or json", cfg.LogFormat)
	}
	return cfg, nil
}

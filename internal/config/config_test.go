package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LISTEN_ADDR", "DB_PATH", "FIRESTORE_PROJECT", "TOKEN_TTL", "AMQP_URL", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ListenAddr)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("expected 24h token TTL, got %s", cfg.TokenTTL)
	}
	if cfg.FirestoreProject != "" || cfg.AMQPURL != "" {
		t.Errorf("expected in-memory backend and log notifier by default, got %+v", cfg)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected text log format, got %s", cfg.LogFormat)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("FIRESTORE_PROJECT", "trips-prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.ListenAddr)
	}
	if cfg.TokenTTL != 90*time.Minute {
		t.Errorf("expected 90m, got %s", cfg.TokenTTL)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected json, got %s", cfg.LogFormat)
	}
	if cfg.FirestoreProject != "trips-prod" {
		t.Errorf("expected trips-prod, got %s", cfg.FirestoreProject)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unparsable ttl", "TOKEN_TTL", "soon"},
		{"negative ttl", "TOKEN_TTL", "-1h"},
		{"unknown format", "LOG_FORMAT", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

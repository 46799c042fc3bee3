package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("PRESENCE_TTL_SECONDS", "")
	t.Setenv("S3_USE_SSL", "")

	cfg := Load()
	if cfg.Addr != ":8790" {
		t.Fatalf("Addr = %q, want :8790", cfg.Addr)
	}
	if cfg.PresenceTTL != time.Hour {
		t.Fatalf("PresenceTTL = %v, want 1h", cfg.PresenceTTL)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3UseSSL to default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("GATEWAY_EVENTS_PER_SECOND", "5")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("PRESENCE_TTL_SECONDS", "not-a-number")

	cfg := Load()
	if cfg.Addr != ":9000" {
		t.Fatalf("Addr = %q, want :9000", cfg.Addr)
	}
	if cfg.GatewayEventsPerSecond != 5 {
		t.Fatalf("GatewayEventsPerSecond = %d, want 5", cfg.GatewayEventsPerSecond)
	}
	if cfg.S3UseSSL {
		t.Fatal("expected S3UseSSL override to false")
	}
	if cfg.PresenceTTL != time.Hour {
		t.Fatalf("invalid PRESENCE_TTL_SECONDS should fall back, got %v", cfg.PresenceTTL)
	}
}

package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("AGENT_CONFIG_BASE_URL", "https://config.example.com/agents")
	t.Setenv("AGENT_TOKEN_URL", "https://config.example.com/token")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ConfigFetchTimeout != 10*time.Second {
		t.Errorf("expected 10s config fetch timeout, got %s", cfg.ConfigFetchTimeout)
	}
	if cfg.Realtime.GreetingDelay != 500*time.Millisecond {
		t.Errorf("unexpected greeting delay %s", cfg.Realtime.GreetingDelay)
	}
	if cfg.Knowledge.Backend != "" {
		t.Errorf("expected knowledge backend disabled by default, got %q", cfg.Knowledge.Backend)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode without FRONTEND_URL")
	}
}

func TestLoadRequiresConfigEndpoint(t *testing.T) {
	t.Setenv("AGENT_CONFIG_BASE_URL", "")
	t.Setenv("AGENT_TOKEN_URL", "https://config.example.com/token")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "AGENT_CONFIG_BASE_URL") {
		t.Fatalf("expected AGENT_CONFIG_BASE_URL error, got %v", err)
	}
}

func TestLoadRejectsUnknownKnowledgeBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("KNOWLEDGE_BACKEND", "elastic")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown knowledge backend")
	}
}

func TestLoadGrpcKnowledgeNeedsAddress(t *testing.T) {
	setRequired(t)
	t.Setenv("KNOWLEDGE_BACKEND", "grpc")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when KNOWLEDGE_GRPC_ADDR is missing")
	}

	t.Setenv("KNOWLEDGE_GRPC_ADDR", "localhost:50051")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Knowledge.GrpcAddr != "localhost:50051" {
		t.Errorf("unexpected grpc addr %q", cfg.Knowledge.GrpcAddr)
	}
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	if got := getEnvDuration("SOME_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %s", got)
	}
	t.Setenv("SOME_DURATION", "250ms")
	if got := getEnvDuration("SOME_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", got)
	}
}

func TestAllowedOriginsInProduction(t *testing.T) {
	cfg := &Config{FrontendURL: "https://shop.example.com"}
	origins := cfg.AllowedOrigins()
	if len(origins) != 1 || origins[0] != "https://shop.example.com" {
		t.Errorf("unexpected origins %v", origins)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Registry.IdleTimeout != 30*time.Minute {
		t.Errorf("Registry.IdleTimeout = %v, want 30m", cfg.Registry.IdleTimeout)
	}
	if cfg.Negotiation.LiveCards != 5 {
		t.Errorf("Negotiation.LiveCards = %d, want 5", cfg.Negotiation.LiveCards)
	}
	if !cfg.Escalation.DemoMode {
		t.Error("Escalation.DemoMode should default to true")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Negotiation.ReasoningTimeout != 10*time.Second {
		t.Errorf("ReasoningTimeout = %v, want 10s", cfg.Negotiation.ReasoningTimeout)
	}
	if cfg.Archive.MaxRecords != 1000 || cfg.Escalation.PlaybooksFile != "" {
		t.Errorf("archive.max_records = %d, playbooks_file = %q", cfg.Archive.MaxRecords, cfg.Escalation.PlaybooksFile)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "equalizer.yaml")
	data := []byte(`
server:
  port: "9090"
negotiation:
  reasoning_timeout: 3s
  live_cards: 7
escalation:
  demo_mode: false
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EQUALIZER_REGISTRY_MAX_SESSIONS", "12")

	cfg, err := Load(New(path))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Negotiation.ReasoningTimeout != 3*time.Second {
		t.Errorf("ReasoningTimeout = %v, want 3s", cfg.Negotiation.ReasoningTimeout)
	}
	if cfg.Negotiation.LiveCards != 7 {
		t.Errorf("LiveCards = %d, want 7", cfg.Negotiation.LiveCards)
	}
	if cfg.Escalation.DemoMode {
		t.Error("DemoMode should be false from file")
	}
	if cfg.Registry.MaxSessions != 12 {
		t.Errorf("MaxSessions = %d, want 12 from env", cfg.Registry.MaxSessions)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(New(filepath.Join(t.TempDir(), "nope.yaml"))); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.LLM.Provider = "openai" }},
		{"vertex without project", func(c *Config) { c.LLM.Provider = "vertex" }},
		{"gemini without key", func(c *Config) { c.LLM.Provider = "gemini" }},
		{"firestore without project", func(c *Config) { c.Archive.Backend = "firestore" }},
		{"zero reasoning timeout", func(c *Config) { c.Negotiation.ReasoningTimeout = 0 }},
		{"score out of range", func(c *Config) { c.Negotiation.InitialScore = 101 }},
		{"zero score", func(c *Config) { c.Negotiation.InitialScore = 0 }},
		{"bad mode", func(c *Config) { c.Mode = "cloud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

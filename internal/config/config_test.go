package config

import (
	"os"
	"testing"
)

const sampleConfig = `
server:
  host: 127.0.0.1
  port: "9090"
llm:
  provider: openai
  base_url: https://api.example.com
  api_key: dummy
  model: gpt-4o
auth:
  jwt_secret: not-a-real-secret
  issuer: relay
store:
  path: /tmp/relay-test.db
log:
  level: debug
`

// TestLoad verifies that Load unmarshals every config section.
func TestLoad(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString(sampleConfig); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("unexpected model: %s", cfg.LLM.Model)
	}
	if cfg.Auth.JWTSecret != "not-a-real-secret" {
		t.Fatalf("unexpected secret: %s", cfg.Auth.JWTSecret)
	}
	if cfg.Store.Path != "/tmp/relay-test.db" {
		t.Fatalf("unexpected store path: %s", cfg.Store.Path)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("unexpected log level: %s", cfg.Log.Level)
	}
}

// TestLoad_Defaults verifies defaults apply when sections are omitted.
func TestLoad_Defaults(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	if _, err := tmp.WriteString("auth:\n  jwt_secret: s\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmp.Close()

	t.Setenv("CONFIG_PATH", tmp.Name())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "3000" {
		t.Fatalf("expected default port, got %s", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-3.5-turbo" {
		t.Fatalf("expected default model, got %s", cfg.LLM.Model)
	}
}

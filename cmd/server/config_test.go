package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
api:
  baseURL: https://api.emofelix.test
ai:
  provider: ollama
  host: http://localhost:11434
  model: llama3
stream:
  timeout: 30s
handoff:
  backend: redis
  redisAddr: localhost:6379
`)

	cfg, err := loadConfig(path, defaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != "9000" || cfg.API.BaseURL != "https://api.emofelix.test" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.API.StreamPath != "/api/chat/gemini/stream/" {
		t.Errorf("default stream path lost: %q", cfg.API.StreamPath)
	}
	if cfg.AI.Provider != providerOllama || cfg.AI.Host != "http://localhost:11434" || cfg.AI.Model != "llama3" {
		t.Errorf("ai = %+v", cfg.AI)
	}
	if cfg.AI.MaxTokens != 1000 || cfg.AI.Temperature != 0.7 {
		t.Errorf("ai defaults lost: %+v", cfg.AI)
	}
	if cfg.Stream.Timeout != 30*time.Second || cfg.Stream.MaxResponseBytes != 1<<20 || cfg.Stream.EndSentinel != "[END]" {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Handoff.TTL != 30*time.Minute {
		t.Errorf("handoff = %+v", cfg.Handoff)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
ai:
  provider: external_api
  url: http://localhost:1234/v1/chat/completions
  token: from-file
`)
	t.Setenv("EMOFELIX_PORT", "7070")
	t.Setenv("EMOFELIX_AI_TOKEN", "from-env")
	t.Setenv("EMOFELIX_STREAM_TIMEOUT", "0s")
	t.Setenv("EMOFELIX_LOG_LEVEL", "debug")

	cfg, err := loadConfig(path, defaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Port != "7070" || cfg.AI.Token != "from-env" || cfg.Stream.Timeout != 0 || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AI.URL != "http://localhost:1234/v1/chat/completions" || cfg.AI.Model != "mistral:instruct" {
		t.Errorf("ai = %+v", cfg.AI)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("EMOFELIX_AI_URL", "http://localhost:1234/v1/chat/completions")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), defaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.Handoff.Backend != "memory" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing provider",
			content: "ai:\n  model: x\n",
			wantErr: "ai provider is required",
		},
		{
			name:    "unknown provider",
			content: "ai:\n  provider: anthropic\n",
			wantErr: "unknown ai provider",
		},
		{
			name:    "field of another provider",
			content: "ai:\n  provider: ollama\n  token: abc\n",
			wantErr: "invalid ai config",
		},
		{
			name:    "external api without url",
			content: "ai:\n  provider: external_api\n",
			wantErr: "ai.url is required",
		},
		{
			name:    "redis without address",
			content: "ai:\n  provider: ollama\nhandoff:\n  backend: redis\n",
			wantErr: "handoff.redisAddr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content), defaultConfig(t.TempDir()))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("loadConfig() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

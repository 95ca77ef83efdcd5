package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Embedder.Kind != "ollama" {
		t.Errorf("expected default embedder kind 'ollama', got '%s'", cfg.Embedder.Kind)
	}
	if cfg.LLM.Endpoint != "http://127.0.0.1:11434" {
		t.Errorf("expected default llm endpoint, got '%s'", cfg.LLM.Endpoint)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got '%s'", cfg.Logging.Level)
	}
	if cfg.Memory.TopK != 5 {
		t.Errorf("expected memory.top_k default 5, got %d", cfg.Memory.TopK)
	}
}

func TestLoadFromPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".mem0", "config.yaml")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}
	if cfg.Embedder.Model != "nomic-embed-text" {
		t.Errorf("expected default embedder model, got '%s'", cfg.Embedder.Model)
	}

	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}
	if cfg2.LLM.Model != cfg.LLM.Model {
		t.Error("config values changed on reload")
	}
}

func TestSaveToPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".mem0", "config.yaml")

	cfg := Default()
	cfg.LLM.Model = "llama3.1"
	cfg.Memory.TopK = 8

	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.LLM.Model != "llama3.1" {
		t.Errorf("expected model 'llama3.1', got '%s'", loaded.LLM.Model)
	}
	if loaded.Memory.TopK != 8 {
		t.Errorf("expected top_k 8, got %d", loaded.Memory.TopK)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tempDir := t.TempDir()
	cfg := Default()
	cfg.Memory.DataDir = filepath.Join(tempDir, "data")
	cfg.Logging.File = filepath.Join(tempDir, "logs", "mem0.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("failed to ensure directories: %v", err)
	}

	for _, dir := range []string{filepath.Join(tempDir, "data"), filepath.Join(tempDir, "logs")} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("directory '%s' was not created", dir)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default", mutate: func(c *Config) {}, wantErr: false},
		{name: "invalid embedder kind", mutate: func(c *Config) { c.Embedder.Kind = "bogus" }, wantErr: true},
		{name: "empty llm endpoint", mutate: func(c *Config) { c.LLM.Endpoint = "" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "non-positive top_k", mutate: func(c *Config) { c.Memory.TopK = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "path with tilde", input: "~/.mem0/config.yaml", expected: filepath.Join(homeDir, ".mem0", "config.yaml")},
		{name: "absolute path", input: "/usr/local/mem0", expected: "/usr/local/mem0"},
		{name: "relative path", input: "./config.yaml", expected: "./config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if result != tt.expected {
				t.Errorf("expandPath(%s) = %s, expected %s", tt.input, result, tt.expected)
			}
		})
	}
}

func TestEnvironmentVariableOverride(t *testing.T) {
	// Viper's AutomaticEnv only overrides keys it already knows about from
	// the config file, so this documents the pattern rather than asserting
	// a strict binding guarantee for every nested field.
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	cfg := Default()
	if err := cfg.SaveToPath(configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	os.Setenv("MEM0_LLM_MODEL", "mixtral")
	defer os.Unsetenv("MEM0_LLM_MODEL")

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	t.Logf("llm.model after env override attempt: %s", loaded.LLM.Model)
}

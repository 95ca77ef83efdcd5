// Package config loads the memory subsystem's configuration from YAML
// plus environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/normanking/mem0/internal/memory"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds everything the memory subsystem needs to start: the
// tunables in memory.Config, the provider config for its Embedder and
// LanguageModel collaborators, and logging output.
type Config struct {
	Memory   memory.Config  `mapstructure:"memory" yaml:"memory"`
	Embedder ProviderConfig `mapstructure:"embedder" yaml:"embedder"`
	LLM      ProviderConfig `mapstructure:"llm" yaml:"llm"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ProviderConfig points at one HTTP-based model provider (Ollama or an
// OpenAI-compatible endpoint).
type ProviderConfig struct {
	// Kind selects the wire protocol: "ollama" or "openai".
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Endpoint is the base URL of the provider's HTTP API.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// APIKey authenticates against an OpenAI-compatible endpoint.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the model name passed in every request.
	Model string `mapstructure:"model" yaml:"model"`
	// JSONModeNative signals the endpoint supports response_format:
	// json_object natively rather than relying on a prompt instruction.
	JSONModeNative bool `mapstructure:"json_mode_native" yaml:"json_mode_native"`
}

// LoggingConfig controls zerolog's global logger.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to a log file that receives a copy of every log
	// line; logs always go to stderr, and empty means stderr only.
	File string `mapstructure:"file" yaml:"file"`
	// Pretty enables zerolog.ConsoleWriter for human-readable dev output
	// instead of line-delimited JSON.
	Pretty bool `mapstructure:"pretty" yaml:"pretty"`
}

// Default returns a Config with every default from the memory data
// model applied, plus Ollama providers pointed at localhost.
func Default() *Config {
	m := memory.DefaultConfig()
	homeDir, _ := os.UserHomeDir()
	m.DataDir = filepath.Join(homeDir, ".mem0")

	return &Config{
		Memory: m,
		Embedder: ProviderConfig{
			Kind:     "ollama",
			Endpoint: "http://127.0.0.1:11434",
			Model:    "nomic-embed-text",
		},
		LLM: ProviderConfig{
			Kind:     "ollama",
			Endpoint: "http://127.0.0.1:11434",
			Model:    "llama3.2",
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(homeDir, ".mem0", "mem0.log"),
			Pretty: false,
		},
	}
}

// Load reads configuration from the default location (~/.mem0/config.yaml)
// and merges with environment variables.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".mem0", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges
// with environment variables. If the file doesn't exist, it is created
// with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: MEM0_MEMORY_TOP_K, MEM0_LLM_ENDPOINT
	v.SetEnvPrefix("MEM0")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Memory.DataDir = expandPath(cfg.Memory.DataDir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Memory.ApplyDefaults()

	return &cfg, nil
}

// Save writes the current configuration to the default config file location.
func (c *Config) Save() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return c.SaveToPath(filepath.Join(homeDir, ".mem0", "config.yaml"))
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// EnsureDirectories creates the data directory and the logging
// directory (if logging to a file).
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Memory.DataDir}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	validKinds := map[string]bool{"ollama": true, "openai": true}
	if !validKinds[c.Embedder.Kind] {
		return fmt.Errorf("invalid embedder.kind '%s', must be one of: ollama, openai", c.Embedder.Kind)
	}
	if !validKinds[c.LLM.Kind] {
		return fmt.Errorf("invalid llm.kind '%s', must be one of: ollama, openai", c.LLM.Kind)
	}
	if c.Embedder.Endpoint == "" {
		return fmt.Errorf("embedder.endpoint cannot be empty")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint cannot be empty")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Memory.TopK <= 0 {
		return fmt.Errorf("memory.top_k must be positive")
	}
	if c.Memory.MaxMemoryCount <= 0 {
		return fmt.Errorf("memory.max_memory_count must be positive")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

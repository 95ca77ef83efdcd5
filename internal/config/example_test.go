package config_test

import (
	"fmt"
	"log"

	"github.com/normanking/mem0/internal/config"
)

// ExampleLoad demonstrates how to load configuration from the default location.
func ExampleLoad() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("LLM model: %s\n", cfg.LLM.Model)
	fmt.Printf("Data dir: %s\n", cfg.Memory.DataDir)
}

// ExampleConfig_Validate demonstrates configuration validation.
func ExampleConfig_Validate() {
	cfg := config.Default()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	fmt.Println("Configuration is valid")

	cfg.Logging.Level = "deafening"
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Validation error: %v\n", err)
	}
}

// ExampleConfig_EnsureDirectories demonstrates directory creation.
func ExampleConfig_EnsureDirectories() {
	cfg := config.Default()

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}
	fmt.Println("All directories created successfully")
}

// ExampleDefault demonstrates creating a config with default values.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Embedder kind: %s\n", cfg.Embedder.Kind)
	fmt.Printf("Embedder model: %s\n", cfg.Embedder.Model)
	fmt.Printf("Memory top_k: %d\n", cfg.Memory.TopK)
}

// Example_providerConfiguration demonstrates customizing the LanguageModel
// provider, including switching to an OpenAI-compatible endpoint.
func Example_providerConfiguration() {
	cfg := config.Default()

	cfg.LLM = config.ProviderConfig{
		Kind:           "openai",
		Endpoint:       "https://api.openai.com/v1",
		Model:          "gpt-4o-mini",
		JSONModeNative: true,
	}

	fmt.Printf("LLM kind: %s\n", cfg.LLM.Kind)
	fmt.Printf("LLM model: %s\n", cfg.LLM.Model)
}

// Example_loggingConfiguration demonstrates logging setup.
func Example_loggingConfiguration() {
	cfg := config.Default()

	fmt.Printf("Log level: %s\n", cfg.Logging.Level)
	cfg.Logging.Level = "debug"
	fmt.Println("Log level set to debug")
}

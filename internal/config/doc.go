// Package config loads the memory subsystem's configuration.
//
// # Overview
//
// The config package uses Viper to load configuration from a YAML file
// plus environment variable overrides. It produces an
// internal/memory.Config (the tunables named in the data model) plus
// provider configuration for the Embedder and LanguageModel the
// subsystem talks to, and logging output settings.
//
// # Configuration File
//
// The configuration is stored at ~/.mem0/config.yaml and is
// automatically created with sensible defaults on first use.
//
// # Environment Variables
//
// All configuration values can be overridden using environment
// variables with the MEM0_ prefix. Nested fields are separated by
// underscores.
//
// Examples:
//   - MEM0_LLM_ENDPOINT=http://127.0.0.1:11434
//   - MEM0_EMBEDDER_MODEL=nomic-embed-text
//   - MEM0_MEMORY_TOP_K=10
//   - MEM0_LOGGING_LEVEL=debug
//
// # Usage Example
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/normanking/mem0/internal/config"
//	)
//
//	func main() {
//	    cfg, err := config.Load()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := cfg.EnsureDirectories(); err != nil {
//	        log.Fatal(err)
//	    }
//	    if err := cfg.Validate(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
package config

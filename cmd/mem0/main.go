// Package main is the entry point for the mem0 CLI, a thin external
// collaborator over the memory subsystem's Host operations.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/normanking/mem0/internal/config"
	"github.com/normanking/mem0/internal/memory"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "mem0",
		Short:             "mem0 - long-term memory subsystem CLI",
		PersistentPreRunE: initLogging,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.mem0/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mem0 v%s\n", version)
		},
	})
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(importLegacyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.Logging.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, os.Stderr)
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err == nil {
			if f, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				writers = append(writers, f)
			}
		}
	}
	log.Logger = zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Str("app", "mem0").Logger()
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFromPath(cfgPath)
	}
	return config.Load()
}

// buildLifecycle wires embedder, language model and Lifecycle from cfg,
// but does not Start it — CLI commands run one-shot operations through
// Host and skip the tick loop / capture batching.
func buildLifecycle(cfg *config.Config) (*memory.Lifecycle, error) {
	embedder := buildEmbedder(cfg.Embedder)
	lm := buildLanguageModel(cfg.LLM)
	return memory.NewLifecycle(cfg.Memory, embedder, lm)
}

func buildEmbedder(p config.ProviderConfig) memory.Embedder {
	switch p.Kind {
	case "openai":
		return memory.NewOpenAICompatibleEmbedder(p.Endpoint, p.APIKey, p.Model)
	default:
		return memory.NewOllamaEmbedder(p.Endpoint, p.Model)
	}
}

func buildLanguageModel(p config.ProviderConfig) memory.LanguageModel {
	switch p.Kind {
	case "openai":
		return memory.NewOpenAICompatibleModel(p.Endpoint, p.APIKey, p.Model, nil, p.JSONModeNative)
	default:
		return memory.NewOllamaModel(p.Endpoint, p.Model)
	}
}

func listCmd() *cobra.Command {
	var scope string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lc, err := buildLifecycle(cfg)
			if err != nil {
				return err
			}
			memories, err := lc.Host().MemoryList(context.Background(), "", memory.Scope(scope), limit)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			if len(memories) == 0 {
				fmt.Println("No memories found.")
				return nil
			}
			for _, m := range memories {
				fmt.Printf("[%s] %s\n", m.ID, truncateLine(m.Text, 80))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "scope: session, long-term, or all")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func searchCmd() *cobra.Command {
	var scope string
	var limit int
	var deep bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantically search stored memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lc, err := buildLifecycle(cfg)
			if err != nil {
				return err
			}
			out, err := lc.Host().MemorySearch(context.Background(), args[0], limit, "", memory.Scope(scope), deep)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			fmt.Println(out.Preview)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "scope: session, long-term, or all")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	cmd.Flags().BoolVar(&deep, "deep", false, "include the archive in the search")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print memory subsystem statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lc, err := buildLifecycle(cfg)
			if err != nil {
				return err
			}
			block, err := lc.Host().MemoryStats(context.Background())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Println(block)
			return nil
		},
	}
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print stats plus the most recently updated memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lc, err := buildLifecycle(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()

			block, err := lc.Host().MemoryStats(ctx)
			if err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			fmt.Println(block)

			fmt.Println("\nRecent memories:")
			fmt.Println("────────────────")
			memories, err := lc.Host().MemoryList(ctx, "", memory.ScopeAll, 0)
			if err != nil {
				return fmt.Errorf("dashboard: %w", err)
			}
			sort.Slice(memories, func(i, j int) bool { return memories[i].UpdatedAt.After(memories[j].UpdatedAt) })
			if len(memories) > 10 {
				memories = memories[:10]
			}
			for _, m := range memories {
				fmt.Printf("  %s  [%s]\n", m.UpdatedAt.Format(time.RFC3339), truncateLine(m.Text, 70))
			}
			return nil
		},
	}
}

func importLegacyCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "import-legacy <file>",
		Short: "Ingest a plain-text file, one non-trivial memory per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("import-legacy: %w", err)
			}
			defer f.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			lc, err := buildLifecycle(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()

			imported := 0
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				out, err := lc.Host().MemoryStore(ctx, line, userID, true)
				if err != nil {
					fmt.Fprintf(os.Stderr, "skip %q: %v\n", truncateLine(line, 40), err)
					continue
				}
				imported += out.StoredCount
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("import-legacy: %w", err)
			}

			fmt.Printf("Imported %d memories from %s\n", imported, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "user id to attribute imported memories to")
	return cmd
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

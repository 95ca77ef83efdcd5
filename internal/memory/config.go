package memory

import "time"

// Config holds every tunable named in the data model. Zero-valued fields
// are filled by ApplyDefaults; callers normally obtain one via
// internal/config (loaded from YAML/env) and then call ApplyDefaults
// before constructing a Lifecycle.
type Config struct {
	UserID       string `mapstructure:"user_id" yaml:"user_id"`
	AutoRecall   bool   `mapstructure:"auto_recall" yaml:"auto_recall"`
	AutoCapture  bool   `mapstructure:"auto_capture" yaml:"auto_capture"`
	TopK         int    `mapstructure:"top_k" yaml:"top_k"`
	SearchThreshold float64 `mapstructure:"search_threshold" yaml:"search_threshold"`
	MaxMemoryCount  int     `mapstructure:"max_memory_count" yaml:"max_memory_count"`

	CaptureBatchWindow      time.Duration `mapstructure:"capture_batch_window_ms" yaml:"capture_batch_window_ms"`
	CaptureBatchMaxMessages int           `mapstructure:"capture_batch_max_messages" yaml:"capture_batch_max_messages"`

	SearchCacheTTL        time.Duration `mapstructure:"search_cache_ttl_ms" yaml:"search_cache_ttl_ms"`
	SearchCacheMaxEntries int           `mapstructure:"search_cache_max_entries" yaml:"search_cache_max_entries"`

	MemoryTokenBudgetRatio float64 `mapstructure:"memory_token_budget_ratio" yaml:"memory_token_budget_ratio"`
	MemoryTokenBudgetMin   int     `mapstructure:"memory_token_budget_min" yaml:"memory_token_budget_min"`
	MemoryTokenBudgetMax   int     `mapstructure:"memory_token_budget_max" yaml:"memory_token_budget_max"`

	ActionTTL         time.Duration `mapstructure:"action_ttl_ms" yaml:"action_ttl_ms"`
	MaxPendingActions int           `mapstructure:"max_pending_actions" yaml:"max_pending_actions"`
	ReflectionTick    time.Duration `mapstructure:"reflection_tick_ms" yaml:"reflection_tick_ms"`

	// WriteQueueDelay optionally pads every queued task with a fixed
	// delay; zero disables it. Present for load-shaping in tests.
	WriteQueueDelay time.Duration `mapstructure:"write_queue_delay_ms" yaml:"write_queue_delay_ms"`

	// DataDir is the per-user directory owning vector_store.db,
	// mem0-archive.jsonl, mem0-actions.json and mem0-status.json.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// DefaultConfig returns the configuration with every default from the
// data model applied, including the boolean defaults (auto_recall and
// auto_capture both true) that ApplyDefaults alone cannot distinguish
// from an explicit false.
func DefaultConfig() Config {
	c := Config{AutoRecall: true, AutoCapture: true}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills any zero-valued non-boolean field with its
// documented default. Boolean fields are left untouched, since a zero
// value cannot be told apart from an explicit false: DefaultConfig sets
// auto_recall/auto_capture to true, and internal/config writes those
// defaults into the config file it creates on first load.
func (c *Config) ApplyDefaults() {
	if c.UserID == "" {
		c.UserID = "default"
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.SearchThreshold == 0 {
		c.SearchThreshold = 0.5
	}
	if c.MaxMemoryCount == 0 {
		c.MaxMemoryCount = 2000
	}
	if c.CaptureBatchWindow == 0 {
		c.CaptureBatchWindow = 1200 * time.Millisecond
	}
	if c.CaptureBatchMaxMessages == 0 {
		c.CaptureBatchMaxMessages = 30
	}
	if c.SearchCacheTTL == 0 {
		c.SearchCacheTTL = 45000 * time.Millisecond
	}
	if c.SearchCacheMaxEntries == 0 {
		c.SearchCacheMaxEntries = 128
	}
	if c.MemoryTokenBudgetRatio == 0 {
		c.MemoryTokenBudgetRatio = 0.15
	}
	if c.MemoryTokenBudgetMin == 0 {
		c.MemoryTokenBudgetMin = 200
	}
	if c.MemoryTokenBudgetMax == 0 {
		c.MemoryTokenBudgetMax = 4000
	}
	if c.ActionTTL == 0 {
		c.ActionTTL = 7 * 24 * time.Hour
	}
	if c.MaxPendingActions == 0 {
		c.MaxPendingActions = 20
	}
	if c.ReflectionTick == 0 {
		c.ReflectionTick = 60 * time.Second
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

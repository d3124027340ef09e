// Package config loads engine configuration from YAML with sane defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Endpoint configures one remote backend.
type Endpoint struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// Config is the full engine configuration.
type Config struct {
	// Model is the completion model driving conversations.
	Model string `yaml:"model"`

	// MaxPromptTokens is the total prompt allowance per round.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`

	// MaxResponseTokens caps each round's response.
	MaxResponseTokens int `yaml:"max_response_tokens"`

	// RecentBudget bounds the recency window inside the prompt.
	RecentBudget int `yaml:"recent_budget"`

	// RecencyWeight blends retrieval scores toward recent history.
	RecencyWeight float64 `yaml:"recency_weight"`

	// Timestamps prefixes rendered history entries with their time.
	Timestamps bool `yaml:"timestamps"`

	// ChunkSize bounds each delivered message.
	ChunkSize int `yaml:"chunk_size"`

	// SummaryEvery refreshes the running summary after this many
	// responses. Zero disables summaries.
	SummaryEvery int `yaml:"summary_every"`

	Completion Endpoint `yaml:"completion"`
	Embedding  Endpoint `yaml:"embedding"`

	// Redis, when set, selects the Redis persistence backend.
	Redis string `yaml:"redis,omitempty"`

	// SQLitePath, when set, selects the SQLite persistence backend.
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	// VectorDir persists the vector index under this directory; empty
	// keeps it in memory.
	VectorDir string `yaml:"vector_dir,omitempty"`
}

// Default returns the configuration used when a field is unset.
func Default() Config {
	return Config{
		Model:             "gpt-4o-mini",
		MaxPromptTokens:   6000,
		MaxResponseTokens: 1000,
		RecentBudget:      2500,
		RecencyWeight:     0.05,
		ChunkSize:         2000,
		SummaryEvery:      10,
	}
}

// Load reads a YAML file over the defaults. A missing file is an error;
// missing fields fall back to Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxPromptTokens <= 0 {
		return fmt.Errorf("config: max_prompt_tokens must be positive")
	}
	if c.MaxResponseTokens <= 0 {
		return fmt.Errorf("config: max_response_tokens must be positive")
	}
	if c.RecentBudget <= 0 {
		return fmt.Errorf("config: recent_budget must be positive")
	}
	if c.RecencyWeight < 0 || c.RecencyWeight > 1 {
		return fmt.Errorf("config: recency_weight must be in [0, 1]")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive")
	}
	return nil
}

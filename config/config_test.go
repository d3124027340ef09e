package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convene.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "model: gpt-4o\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, Default().MaxPromptTokens, cfg.MaxPromptTokens)
	assert.Equal(t, Default().RecencyWeight, cfg.RecencyWeight)
	assert.Equal(t, Default().ChunkSize, cfg.ChunkSize)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
model: gpt-4o
max_prompt_tokens: 8000
recent_budget: 3000
recency_weight: 0.2
summary_every: 5
completion:
  base_url: https://api.example.com/v1
  api_key: sk-test
sqlite_path: /var/lib/convene.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.MaxPromptTokens)
	assert.Equal(t, 3000, cfg.RecentBudget)
	assert.Equal(t, 0.2, cfg.RecencyWeight)
	assert.Equal(t, 5, cfg.SummaryEvery)
	assert.Equal(t, "https://api.example.com/v1", cfg.Completion.BaseURL)
	assert.Equal(t, "/var/lib/convene.db", cfg.SQLitePath)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative prompt budget": "max_prompt_tokens: -1\n",
		"zero chunk size":        "chunk_size: 0\n",
		"weight above one":       "recency_weight: 1.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

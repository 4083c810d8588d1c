package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/agent-recall/internal/recall"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 0.90, cfg.Dedupe.DuplicateThreshold)
	assert.Equal(t, 0.95, cfg.Dedupe.ConsolidateThreshold)
	assert.Equal(t, 50, cfg.Dedupe.ConsolidateEveryWrites)
	assert.Equal(t, 200.0, cfg.Scoring.RecencyTau)
	assert.Equal(t, recall.DefaultConfig(), cfg.Recall())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /tmp/recall-test.db
embedding:
  provider: hash
  dims: 64
retrieval:
  default_k: 7
dedupe:
  consolidate_cron: "0 3 * * *"
log:
  format: json
`)
	t.Setenv("AGENT_RECALL_RETRIEVAL_MAX_K", "30")
	t.Setenv("AGENT_RECALL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/recall-test.db", cfg.Store.Path)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dims)
	assert.Equal(t, 7, cfg.Retrieval.DefaultK)
	assert.Equal(t, 30, cfg.Retrieval.MaxK)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, recall.ScheduleConfig{Cron: "0 3 * * *", Interval: time.Hour}, cfg.Schedule())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeConfig(t, "{}\n"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"mongo without uri", func(c *Config) { c.Store.Driver = "mongo" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"zero k", func(c *Config) { c.Retrieval.DefaultK = 0 }},
		{"max below default", func(c *Config) { c.Retrieval.MaxK = 2 }},
		{"confidence floor above one", func(c *Config) { c.Retrieval.MinConfidence = 1.2 }},
		{"duplicate threshold above one", func(c *Config) { c.Dedupe.DuplicateThreshold = 1.5 }},
		{"related above duplicate", func(c *Config) { c.Dedupe.RelatedThreshold = 0.95 }},
		{"negative weight", func(c *Config) { c.Scoring.Weights.Keyword = -0.1 }},
		{"zero tau", func(c *Config) { c.Scoring.RecencyTau = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, valid().Validate())
}

// Package config loads agent-recall settings from defaults, an optional YAML
// file, a .env file and AGENT_RECALL_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/rank"
	"github.com/rcliao/agent-recall/internal/recall"
)

// EnvPrefix prefixes every environment override, e.g. AGENT_RECALL_STORE_PATH.
const EnvPrefix = "AGENT_RECALL"

type Config struct {
	Store     StoreConfig           `mapstructure:"store"`
	Embedding embedding.Config      `mapstructure:"embedding"`
	Retrieval RetrievalConfig       `mapstructure:"retrieval"`
	Scoring   rank.Config           `mapstructure:"scoring"`
	Dedupe    DedupeConfig          `mapstructure:"dedupe"`
	Episodic  recall.EpisodicConfig `mapstructure:"episodic"`
	Lock      LockConfig            `mapstructure:"lock"`
	Log       logging.Config        `mapstructure:"log"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite | mongo
	Path          string `mapstructure:"path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type RetrievalConfig struct {
	DefaultK      int           `mapstructure:"default_k"`
	MaxK          int           `mapstructure:"max_k"`
	ComplexBonus  int           `mapstructure:"complex_bonus"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	ExpandRelated bool          `mapstructure:"expand_related"`
	TouchTimeout  time.Duration `mapstructure:"touch_timeout"`
}

type DedupeConfig struct {
	DuplicateThreshold     float64       `mapstructure:"duplicate_threshold"`
	RelatedThreshold       float64       `mapstructure:"related_threshold"`
	Neighbors              int           `mapstructure:"neighbors"`
	ConsolidateThreshold   float64       `mapstructure:"consolidate_threshold"`
	ConsolidateEveryWrites int           `mapstructure:"consolidate_every_writes"`
	PairwiseLimit          int           `mapstructure:"pairwise_limit"`
	ConsolidateCron        string        `mapstructure:"consolidate_cron"`
	ConsolidateInterval    time.Duration `mapstructure:"consolidate_interval"`
}

// LockConfig points consolidation locking at Redis. Empty RedisURL keeps locks in-process.
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultDBPath is the SQLite file used when store.path is unset.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-recall", "memory.db")
}

func setDefaults(v *viper.Viper) {
	rc := recall.DefaultConfig()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", DefaultDBPath())
	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "agent_recall")

	v.SetDefault("embedding.provider", "none")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dims", 0)
	v.SetDefault("embedding.timeout", 10*time.Second)
	v.SetDefault("embedding.cache_ttl", 10*time.Minute)
	v.SetDefault("embedding.rate_per_sec", 0.0)
	v.SetDefault("embedding.rate_burst", 1)

	v.SetDefault("retrieval.default_k", rc.DefaultK)
	v.SetDefault("retrieval.max_k", rc.MaxK)
	v.SetDefault("retrieval.complex_bonus", rc.ComplexBonus)
	v.SetDefault("retrieval.min_confidence", rc.MinConfidence)
	v.SetDefault("retrieval.expand_related", rc.ExpandRelated)
	v.SetDefault("retrieval.touch_timeout", rc.TouchTimeout)

	sc := rc.Scoring
	v.SetDefault("scoring.weights.semantic", sc.Weights.Semantic)
	v.SetDefault("scoring.weights.keyword", sc.Weights.Keyword)
	v.SetDefault("scoring.weights.importance", sc.Weights.Importance)
	v.SetDefault("scoring.weights.recency", sc.Weights.Recency)
	v.SetDefault("scoring.weights.frequency", sc.Weights.Frequency)
	v.SetDefault("scoring.empty_query.importance", sc.EmptyQuery.Importance)
	v.SetDefault("scoring.empty_query.recency", sc.EmptyQuery.Recency)
	v.SetDefault("scoring.empty_query.frequency", sc.EmptyQuery.Frequency)
	v.SetDefault("scoring.recency_tau", sc.RecencyTau)
	v.SetDefault("scoring.frequency_cap", sc.FrequencyCap)
	v.SetDefault("scoring.tag_boost", sc.TagBoost)
	v.SetDefault("scoring.constraint_boost", sc.ConstraintBoost)
	v.SetDefault("scoring.key_match_bonus", sc.KeyMatchBonus)

	v.SetDefault("dedupe.duplicate_threshold", rc.DuplicateThreshold)
	v.SetDefault("dedupe.related_threshold", rc.RelatedThreshold)
	v.SetDefault("dedupe.neighbors", rc.Neighbors)
	v.SetDefault("dedupe.consolidate_threshold", rc.ConsolidateThreshold)
	v.SetDefault("dedupe.consolidate_every_writes", rc.ConsolidateEvery)
	v.SetDefault("dedupe.pairwise_limit", rc.PairwiseLimit)
	v.SetDefault("dedupe.consolidate_cron", "")
	v.SetDefault("dedupe.consolidate_interval", time.Hour)

	v.SetDefault("episodic.every_turns", rc.Episodic.EveryTurns)
	v.SetDefault("episodic.min_memories", rc.Episodic.MinMemories)
	v.SetDefault("episodic.top_n", rc.Episodic.TopN)

	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.prefix", "agent-recall:lock:")
	v.SetDefault("lock.ttl", rc.LockTTL)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("metrics.addr", "")
}

// Load reads configuration. An empty path searches for config.yaml in the
// working directory and the user config directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "agent-recall"))
		}
		home, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(home, ".config", "agent-recall"))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required combinations.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("config: store.path is required for sqlite")
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("config: store.mongo_uri is required for mongo")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q (must be sqlite or mongo)", c.Store.Driver)
	}

	switch c.Embedding.Provider {
	case "", "none", "hash", "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embedding.provider %q", c.Embedding.Provider)
	}

	r := c.Retrieval
	if r.DefaultK < 1 {
		return errors.New("config: retrieval.default_k must be at least 1")
	}
	if r.MaxK < r.DefaultK {
		return errors.New("config: retrieval.max_k must not be below retrieval.default_k")
	}
	// Negative disables the floor.
	if r.MinConfidence > 1 {
		return fmt.Errorf("config: retrieval.min_confidence %v above 1", r.MinConfidence)
	}

	for name, th := range map[string]float64{
		"dedupe.duplicate_threshold":   c.Dedupe.DuplicateThreshold,
		"dedupe.related_threshold":     c.Dedupe.RelatedThreshold,
		"dedupe.consolidate_threshold": c.Dedupe.ConsolidateThreshold,
	} {
		if th <= 0 || th > 1 {
			return fmt.Errorf("config: %s %v outside (0,1]", name, th)
		}
	}
	if c.Dedupe.RelatedThreshold > c.Dedupe.DuplicateThreshold {
		return errors.New("config: dedupe.related_threshold must not exceed dedupe.duplicate_threshold")
	}

	w := c.Scoring.Weights
	for name, x := range map[string]float64{
		"semantic":   w.Semantic,
		"keyword":    w.Keyword,
		"importance": w.Importance,
		"recency":    w.Recency,
		"frequency":  w.Frequency,
	} {
		if x < 0 {
			return fmt.Errorf("config: scoring.weights.%s must not be negative", name)
		}
	}
	if c.Scoring.RecencyTau <= 0 {
		return errors.New("config: scoring.recency_tau must be positive")
	}
	return nil
}

// Recall maps the settings onto the engine configuration.
func (c *Config) Recall() recall.Config {
	return recall.Config{
		DefaultK:             c.Retrieval.DefaultK,
		MaxK:                 c.Retrieval.MaxK,
		ComplexBonus:         c.Retrieval.ComplexBonus,
		MinConfidence:        c.Retrieval.MinConfidence,
		ExpandRelated:        c.Retrieval.ExpandRelated,
		TouchTimeout:         c.Retrieval.TouchTimeout,
		DuplicateThreshold:   c.Dedupe.DuplicateThreshold,
		RelatedThreshold:     c.Dedupe.RelatedThreshold,
		Neighbors:            c.Dedupe.Neighbors,
		ConsolidateThreshold: c.Dedupe.ConsolidateThreshold,
		ConsolidateEvery:     c.Dedupe.ConsolidateEveryWrites,
		PairwiseLimit:        c.Dedupe.PairwiseLimit,
		LockTTL:              c.Lock.TTL,
		Episodic:             c.Episodic,
		Scoring:              c.Scoring,
	}
}

// Schedule returns the periodic consolidation schedule.
func (c *Config) Schedule() recall.ScheduleConfig {
	return recall.ScheduleConfig{
		Cron:     c.Dedupe.ConsolidateCron,
		Interval: c.Dedupe.ConsolidateInterval,
	}
}

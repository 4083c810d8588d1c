// Package recall retrieves, ranks, stores and consolidates agent memories.
//
// An Engine sits between an agent loop and a store.Store. Retrieve turns a
// query into a ranked, bounded list of active memories; Submit screens an
// extracted candidate for duplicates, supersedes older values for the same
// key and persists it. Consolidate deactivates near-duplicates that slipped
// through. The embedding provider is optional: every path degrades to
// keyword and exact-text matching when it fails.
package recall

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/lock"
	"github.com/rcliao/agent-recall/internal/metrics"
	"github.com/rcliao/agent-recall/internal/model"
	"github.com/rcliao/agent-recall/internal/rank"
	"github.com/rcliao/agent-recall/internal/store"
)

// ErrConsolidationRunning is returned when a consolidation run for the same
// session is already in flight. Callers treat it as a skipped run.
var ErrConsolidationRunning = errors.New("consolidation already running for session")

// NeighborIndex is a per-session vector index used for duplicate screening
// and large consolidation runs. index.ChromemIndex implements it.
type NeighborIndex interface {
	Has(sessionID string) bool
	Load(ctx context.Context, sessionID string, items []index.Item) error
	Add(ctx context.Context, sessionID string, it index.Item) error
	Remove(ctx context.Context, sessionID string, ids ...string) error
	Nearest(ctx context.Context, sessionID string, vec []float32, n int) ([]index.Neighbor, error)
	Drop(sessionID string) error
	Len(sessionID string) int
}

// EpisodicConfig controls periodic summary memories.
type EpisodicConfig struct {
	EveryTurns  int `mapstructure:"every_turns"`
	MinMemories int `mapstructure:"min_memories"`
	TopN        int `mapstructure:"top_n"`
}

// Config tunes retrieval, screening and consolidation. New fills zero fields
// from DefaultConfig and treats a zero Config as DefaultConfig. A negative
// ComplexBonus or MinConfidence switches that feature off.
type Config struct {
	DefaultK      int     `mapstructure:"default_k"`
	MaxK          int     `mapstructure:"max_k"`
	ComplexBonus  int     `mapstructure:"complex_bonus"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	ExpandRelated bool    `mapstructure:"expand_related"`

	DuplicateThreshold   float64 `mapstructure:"duplicate_threshold"`
	RelatedThreshold     float64 `mapstructure:"related_threshold"`
	Neighbors            int     `mapstructure:"neighbors"`
	ConsolidateThreshold float64 `mapstructure:"consolidate_threshold"`
	ConsolidateEvery     int     `mapstructure:"consolidate_every"`
	// PairwiseLimit is the session size above which consolidation uses the
	// neighbor index instead of comparing every pair.
	PairwiseLimit int           `mapstructure:"pairwise_limit"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	TouchTimeout  time.Duration `mapstructure:"touch_timeout"`

	Episodic EpisodicConfig `mapstructure:"episodic"`
	Scoring  rank.Config    `mapstructure:"scoring"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		DefaultK:             5,
		MaxK:                 20,
		ComplexBonus:         3,
		MinConfidence:        0.5,
		ExpandRelated:        true,
		DuplicateThreshold:   0.90,
		RelatedThreshold:     0.75,
		Neighbors:            3,
		ConsolidateThreshold: 0.95,
		ConsolidateEvery:     50,
		PairwiseLimit:        500,
		LockTTL:              5 * time.Minute,
		TouchTimeout:         10 * time.Second,
		Episodic: EpisodicConfig{
			EveryTurns:  25,
			MinMemories: 10,
			TopN:        5,
		},
		Scoring: rank.DefaultConfig(),
	}
}

// Options wires an Engine. Only Store is required.
type Options struct {
	Store    store.Store
	Embedder embedding.Embedder
	Index    NeighborIndex
	Locker   lock.Locker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Config   Config
}

// Engine is safe for concurrent use. Writes to one session are serialized;
// reads never block on writes.
type Engine struct {
	store    store.Store
	embedder embedding.Embedder
	index    NeighborIndex
	locker   lock.Locker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	scorer   *rank.Scorer
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*sessionState

	bg sync.WaitGroup
}

type sessionState struct {
	mu     sync.Mutex
	writes int
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("recall: store is required")
	}
	cfg := opts.Config
	def := DefaultConfig()
	if cfg == (Config{}) {
		cfg = def
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = def.MaxK
	}
	switch {
	case cfg.ComplexBonus == 0:
		cfg.ComplexBonus = def.ComplexBonus
	case cfg.ComplexBonus < 0:
		cfg.ComplexBonus = 0
	}
	switch {
	case cfg.MinConfidence == 0:
		cfg.MinConfidence = def.MinConfidence
	case cfg.MinConfidence < 0:
		cfg.MinConfidence = 0
	}
	if cfg.RelatedThreshold <= 0 {
		cfg.RelatedThreshold = def.RelatedThreshold
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = def.Neighbors
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	if cfg.ConsolidateThreshold <= 0 {
		cfg.ConsolidateThreshold = def.ConsolidateThreshold
	}
	if cfg.PairwiseLimit <= 0 {
		cfg.PairwiseLimit = def.PairwiseLimit
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.TouchTimeout <= 0 {
		cfg.TouchTimeout = def.TouchTimeout
	}
	if cfg.Episodic == (EpisodicConfig{}) {
		cfg.Episodic = def.Episodic
	}
	scorer := rank.NewScorer(cfg.Scoring)
	cfg.Scoring = scorer.Config()

	e := &Engine{
		store:    opts.Store,
		embedder: opts.Embedder,
		index:    opts.Index,
		locker:   opts.Locker,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		scorer:   scorer,
		cfg:      cfg,
		sessions: make(map[string]*sessionState),
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Drain waits for background work (access write-back, triggered
// consolidation) to finish.
func (e *Engine) Drain() {
	e.bg.Wait()
}

// Close drains background work. The store is owned by the caller.
func (e *Engine) Close() error {
	e.Drain()
	return nil
}

func (e *Engine) session(id string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[id]
	if !ok {
		st = &sessionState{}
		e.sessions[id] = st
	}
	return st
}

// embed returns nil when no provider is configured or the provider fails.
func (e *Engine) embed(ctx context.Context, text, path string) embedding.Vector {
	if e.embedder == nil {
		return nil
	}
	v, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("embedding unavailable, degrading", "path", path, "error", err)
		e.metrics.ObserveFallback(path)
		return nil
	}
	return v
}

// background runs fn detached from the caller's cancellation.
func (e *Engine) background(ctx context.Context, timeout time.Duration, fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		fn(bctx)
	}()
}

func requireSession(sessionID string) error {
	if sessionID == "" {
		return &model.ValidationError{Field: "session_id", Reason: "required"}
	}
	if len(sessionID) > model.MaxSessionIDLen {
		return &model.ValidationError{Field: "session_id", Reason: "too long"}
	}
	return nil
}

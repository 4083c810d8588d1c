// Package cli implements the agent-recall CLI commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/config"
	"github.com/rcliao/agent-recall/internal/embedding"
	"github.com/rcliao/agent-recall/internal/index"
	"github.com/rcliao/agent-recall/internal/lock"
	"github.com/rcliao/agent-recall/internal/logging"
	"github.com/rcliao/agent-recall/internal/metrics"
	"github.com/rcliao/agent-recall/internal/recall"
	"github.com/rcliao/agent-recall/internal/store"
)

var (
	configPath string
	dbPath     string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-recall",
	Short: "Long-term memory retrieval for conversational agents",
	Long: "Store extracted user memories, retrieve the most relevant ones for a query, " +
		"and consolidate near-duplicates. SQLite-backed by default, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml or ~/.config/agent-recall/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite path (default: $AGENT_RECALL_STORE_PATH or ~/.agent-recall/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json, text or yaml")
}

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Backend
	engine   *recall.Engine
	registry *prometheus.Registry
	closers  []func() error
}

func loadConfig() (*config.Config, *slog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.Path = dbPath
	}
	logger, err := logging.Init(cfg.Log, os.Stderr)
	if err != nil {
		exitErr("configure logging", err)
	}
	return cfg, logger
}

func openStore(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	switch cfg.Store.Driver {
	case "mongo":
		return store.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
	default:
		return store.NewSQLiteStore(cfg.Store.Path)
	}
}

// openApp wires store, embedder, index, lock and metrics into an engine.
func openApp(ctx context.Context) *app {
	cfg, logger := loadConfig()
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	s, err := openStore(ctx, cfg)
	if err != nil {
		exitErr("open store", err)
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		a.close()
		exitErr("configure embeddings", err)
	}

	opts := recall.Options{
		Store:    s,
		Embedder: emb,
		Metrics:  metrics.New(a.registry),
		Logger:   logger,
		Config:   cfg.Recall(),
	}
	if emb != nil {
		opts.Index = index.NewChromemIndex()
	}
	if cfg.Lock.RedisURL != "" {
		rl, err := lock.NewRedis(ctx, cfg.Lock.RedisURL, cfg.Lock.Prefix)
		if err != nil {
			a.close()
			exitErr("connect lock", err)
		}
		opts.Locker = rl
		a.closers = append(a.closers, rl.Close)
	}

	e, err := recall.New(opts)
	if err != nil {
		a.close()
		exitErr("create engine", err)
	}
	a.engine = e
	a.closers = append(a.closers, e.Close)
	return a
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

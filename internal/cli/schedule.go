package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rcliao/agent-recall/internal/recall"
)

func init() {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run periodic consolidation until interrupted",
		Long: "Consolidate every session on dedupe.consolidate_cron, or every dedupe.consolidate_interval. " +
			"With --metrics-addr, Prometheus metrics are served on /metrics.",
		Run: runSchedule,
	}

	cmd.Flags().String("cron", "", "Cron expression (overrides config)")
	cmd.Flags().Duration("interval", 0, "Interval between runs (overrides config)")
	cmd.Flags().String("metrics-addr", "", "Listen address for /metrics (default: metrics.addr)")
	cmd.Flags().Bool("now", false, "Run once immediately before waiting for the schedule")

	RootCmd.AddCommand(cmd)
}

func runSchedule(cmd *cobra.Command, args []string) {
	cron, _ := cmd.Flags().GetString("cron")
	interval, _ := cmd.Flags().GetDuration("interval")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	now, _ := cmd.Flags().GetBool("now")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := openApp(ctx)
	defer a.close()

	sc := a.cfg.Schedule()
	if cron != "" {
		sc = recall.ScheduleConfig{Cron: cron}
	} else if interval > 0 {
		sc = recall.ScheduleConfig{Interval: interval}
	}
	s, err := recall.NewScheduler(a.engine, a.store, sc)
	if err != nil {
		exitErr("schedule", err)
	}

	if metricsAddr == "" {
		metricsAddr = a.cfg.Metrics.Addr
	}
	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", metricsAddr, "error", err)
			}
		}()
		a.logger.Info("serving metrics", "addr", metricsAddr)
	}

	if now {
		if _, err := s.RunOnce(ctx); err != nil {
			a.logger.Error("initial consolidation failed", "error", err)
		}
	}
	s.Start()
	<-ctx.Done()

	a.logger.Info("shutting down scheduler")
	if err := s.Stop(); err != nil {
		a.logger.Warn("scheduler shutdown", "error", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/infra-mapper/infra-mapper/internal/alerts"
	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/config"
	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/graph"
	"github.com/infra-mapper/infra-mapper/internal/health"
	"github.com/infra-mapper/infra-mapper/internal/ingest"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/notify"
	"github.com/infra-mapper/infra-mapper/internal/relay"
	"github.com/infra-mapper/infra-mapper/internal/sinks"
	"github.com/infra-mapper/infra-mapper/internal/store"
	"github.com/infra-mapper/infra-mapper/internal/web"
	"github.com/infra-mapper/infra-mapper/internal/ws"
)

var version = "dev"

func main() {
	cfg := config.LoadServer()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogJSON, cfg.LogLevel)

	fmt.Println("Infra-Mapper server " + version)
	fmt.Println("=============================================")
	fmt.Printf("MAPPER_LISTEN_ADDR=%s\n", cfg.ListenAddr)
	fmt.Printf("MAPPER_DB_HOST=%s\n", cfg.DBHost)
	fmt.Printf("MAPPER_DB_NAME=%s\n", cfg.DBName)
	fmt.Printf("MAPPER_SWEEP_INTERVAL=%s\n", cfg.SweepInterval)
	fmt.Printf("MAPPER_LOG_RETENTION_DAYS=%d\n", cfg.LogRetentionDays)
	fmt.Printf("MAPPER_METRIC_RETENTION_DAYS=%d\n", cfg.MetricRetentionDays)
	fmt.Printf("MAPPER_ALERT_RETENTION_DAYS=%d\n", cfg.AlertRetentionDays)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	db, err := store.Open(cfg, log)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	clk := clock.System{}
	bus := events.New()

	tracker := health.NewTracker(db, bus, clk, log)
	dispatcher := notify.NewDispatcher(db, clk, log)
	alertSvc := alerts.NewService(db, dispatcher, bus, clk, log)
	forwarder := sinks.NewForwarder(db, clk, log)
	ingestor := ingest.New(&ingestStore{db}, tracker, alertSvc, forwarder, bus, clk, log)
	graphSvc := graph.New(db, clk, log)
	commandRelay := relay.New(db, cfg.APIKey, log)

	hub := ws.New(bus, log)
	go hub.Run(ctx)

	// Background jobs: the agent health sweep on its configured cadence and
	// a daily retention pass over logs, metrics, and resolved alerts.
	jobs := cron.New()
	_, err = jobs.AddFunc(fmt.Sprintf("@every %s", cfg.SweepInterval), func() {
		if _, err := tracker.Sweep(context.Background()); err != nil {
			log.Error("agent health sweep failed", "error", err)
		}
	})
	if err != nil {
		log.Error("failed to schedule health sweep", "error", err)
		os.Exit(1)
	}
	_, err = jobs.AddFunc("@daily", func() {
		runRetention(context.Background(), db, alertSvc, cfg, log)
	})
	if err != nil {
		log.Error("failed to schedule retention", "error", err)
		os.Exit(1)
	}
	jobs.Start()
	defer jobs.Stop()

	srv := web.NewServer(web.Dependencies{
		Ingest:     ingestor,
		Graph:      graphSvc,
		Health:     tracker,
		Alerts:     alertSvc,
		Sinks:      forwarder,
		Relay:      commandRelay,
		Hosts:      db,
		Containers: db,
		Logs:       db,
		Metrics:    db,
		Counts:     db,
		DB:         db,
		Hub:        hub,
		Clock:      clk,
		APIKey:     cfg.APIKey,
		Version:    version,
		Log:        log,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("mapper server started", "addr", cfg.ListenAddr, "version", version)

	if err := srv.ListenAndServe(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("web server error", "error", err)
		os.Exit(1)
	}

	log.Info("mapper server shutdown complete")
}

// runRetention prunes stored data past its configured retention.
func runRetention(ctx context.Context, db *store.Store, alertSvc *alerts.Service, cfg *config.Server, log *logging.Logger) {
	now := time.Now().UTC()

	if n, err := db.DeleteLogsBefore(ctx, now.AddDate(0, 0, -cfg.LogRetentionDays)); err != nil {
		log.Error("log retention failed", "error", err)
	} else if n > 0 {
		log.Info("logs pruned", "deleted", n, "retention_days", cfg.LogRetentionDays)
	}

	hostN, containerN, err := db.DeleteMetricsBefore(ctx, now.AddDate(0, 0, -cfg.MetricRetentionDays))
	if err != nil {
		log.Error("metric retention failed", "error", err)
	} else if hostN+containerN > 0 {
		log.Info("metrics pruned", "host_metrics", hostN, "container_metrics", containerN,
			"retention_days", cfg.MetricRetentionDays)
	}

	if n, err := alertSvc.DeleteResolvedOlderThan(ctx, cfg.AlertRetentionDays); err != nil {
		log.Error("alert retention failed", "error", err)
	} else if n > 0 {
		log.Info("resolved alerts pruned", "deleted", n, "retention_days", cfg.AlertRetentionDays)
	}
}

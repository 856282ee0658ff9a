package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/seclens/seclens/internal/config"
	"github.com/seclens/seclens/internal/correlate"
	"github.com/seclens/seclens/internal/detect"
	"github.com/seclens/seclens/internal/feature"
	"github.com/seclens/seclens/internal/ingest"
	"github.com/seclens/seclens/internal/metrics"
	"github.com/seclens/seclens/internal/normalize"
	"github.com/seclens/seclens/internal/pipeline"
	"github.com/seclens/seclens/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	dbURL, err := cfg.RequireDatabaseURL()
	if err != nil {
		logger.Error("missing configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, dbURL, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("seclens-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		logger.Error("failed to connect to nats", "url", cfg.NATSURL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	subscriber, err := ingest.NewSubscriber(st, m, cfg.NATSSubject, logger.With("component", "ingest"))
	if err != nil {
		logger.Error("failed to build subscriber", "error", err)
		os.Exit(1)
	}
	if err := subscriber.Start(ctx, nc); err != nil {
		logger.Error("failed to start subscriber", "error", err)
		os.Exit(1)
	}
	defer subscriber.Stop()

	tun := cfg.Tunables
	stages := []pipeline.Stage{
		normalize.New(st, m,
			normalize.Options{EnableLabBurstEscalation: tun.EnableLabBurstEscalation},
			cfg.NormalizeBatchSize, logger.With("stage", "normalize")),
		feature.New(st, m,
			feature.DefaultRules(tun.SuspiciousSignatures), tun.BenignSignatures,
			cfg.LookbackMinutes, cfg.BucketSeconds, logger.With("stage", "features")),
		detect.New(st, m, tun, cfg.BucketSeconds, logger.With("stage", "detect")),
		correlate.New(st, m, tun, cfg.CorrelateBatchSize, logger.With("stage", "correlate")),
	}
	driver := pipeline.New(stages, m, cfg.StageTimeout, logger.With("component", "pipeline"))

	// Skip, not queue: a slow run just means the next tick does more work.
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	spec := fmt.Sprintf("@every %s", cfg.PollInterval)
	if _, err := scheduler.AddFunc(spec, func() {
		if _, err := driver.RunOnce(ctx); err != nil {
			logger.Error("pipeline run failed", "error", err)
		}
	}); err != nil {
		logger.Error("failed to schedule pipeline", "spec", spec, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	httpMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Health(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpMux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	logger.Info("worker started",
		"poll_interval", cfg.PollInterval,
		"nats_subject", cfg.NATSSubject,
		"http_addr", cfg.HTTPAddr)

	// One immediate run so a fresh deployment does not idle a full tick.
	if _, err := driver.RunOnce(ctx); err != nil {
		logger.Error("pipeline run failed", "error", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

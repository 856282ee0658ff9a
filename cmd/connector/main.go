package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/seclens/seclens/internal/config"
	"github.com/seclens/seclens/internal/connector"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	baseURL := os.Getenv("SECLENS_UPSTREAM_URL")
	username := os.Getenv("SECLENS_UPSTREAM_USER")
	password := os.Getenv("SECLENS_UPSTREAM_PASSWORD")
	index := getEnv("SECLENS_UPSTREAM_INDEX", "main")
	if baseURL == "" || username == "" || password == "" {
		logger.Error("SECLENS_UPSTREAM_URL, SECLENS_UPSTREAM_USER and SECLENS_UPSTREAM_PASSWORD are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("seclens-connector"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		logger.Error("failed to connect to nats", "url", cfg.NATSURL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	client := connector.NewClient(baseURL, username, password, index,
		logger.With("component", "client"))
	poller := connector.NewPoller(client, nc, cfg.NATSSubject, cfg.PollInterval,
		time.Now().Add(-cfg.PollInterval), logger.With("component", "poller"))

	logger.Info("connector started",
		"upstream", baseURL, "index", index,
		"subject", cfg.NATSSubject, "poll_interval", cfg.PollInterval)

	if err := poller.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("poller exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}

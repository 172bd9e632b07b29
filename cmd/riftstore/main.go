// Package main is the entry point for riftstore.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/riftstore/eventstore/internal/api"
	"github.com/riftstore/eventstore/internal/config"
	"github.com/riftstore/eventstore/internal/dispatcher"
	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/metrics"
	"github.com/riftstore/eventstore/internal/registry"
	"github.com/riftstore/eventstore/internal/validator"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("riftstore %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting riftstore",
		slog.String("version", version),
		slog.String("dataDir", cfg.Storage.DataDir),
		slog.String("configDir", cfg.Storage.ConfigDir),
		slog.String("address", cfg.Address()),
	)

	m := metrics.New()

	v := validator.New()
	reg := registry.New(cfg.Storage.ConfigDir, v, logger)
	if err := reg.LoadAll(); err != nil {
		logger.Error("failed to load topic registry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	consumers := dispatcher.NewConsumerRegistry(reg)

	store := eventlog.New(cfg.Storage.DataDir, reg, v,
		eventlog.WithMetrics(m),
		eventlog.WithLogger(logger),
	)

	// The HTTP handler wakes the relevant dispatchers itself right after a
	// successful publish (see handlers.PublishEvents), so the store is not
	// given a Notifier here.
	mgr := dispatcher.NewManager(store, consumers,
		dispatcher.WithBatchSize(cfg.Dispatch.BatchSize),
		dispatcher.WithPollInterval(time.Duration(cfg.Dispatch.PollIntervalMS)*time.Millisecond),
		dispatcher.WithDeliveryTimeout(time.Duration(cfg.Dispatch.DeliveryTimeoutSeconds)*time.Second),
		dispatcher.WithDeliveryPort(dispatcher.NewHTTPDeliveryPort(time.Duration(cfg.Dispatch.DeliveryTimeoutSeconds)*time.Second)),
		dispatcher.WithMetrics(m),
		dispatcher.WithLogger(logger),
	)

	watchStop := make(chan struct{})
	reg.Watch(watchStop)

	server := api.NewServer(cfg, reg, store, consumers, mgr, logger, api.WithMetrics(m))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		close(watchStop)
		mgr.StopAll()
	}

	logger.Info("shutdown complete")
}

// newLogger builds the process-wide structured logger. When
// cfg.FilePath is set, log records are written to a lumberjack-rotated
// file in addition to stdout.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = os.Stdout
	if cfg.FilePath != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

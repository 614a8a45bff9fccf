// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// modelsync-probe serves sample collections and a demo object over
// the modelsync protocol. It is what the modelsync client CLI is
// tested against, and a template for embedding a probe in a real
// process.
//
// Published objects:
//
//   - environment: the process environment, grouped by variable
//     prefix, with editable values and a selection model
//   - ticks: a log gaining one row per second, capped at 100 rows
//   - runtime: Go runtime statistics refreshed every two seconds,
//     created through the broker's model factory
//   - counter: an object emitting a signal per tick, with count and
//     label properties and reset/setLabel methods
//
// Configuration comes from --config or MODELSYNC_CONFIG; without
// either the defaults apply. --listen and --label override the file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/broker"
	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/config"
	"github.com/bureau-foundation/modelsync/lib/process"
	"github.com/bureau-foundation/modelsync/lib/version"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
	"github.com/bureau-foundation/modelsync/selection"
	"github.com/bureau-foundation/modelsync/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		label       string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("modelsync-probe", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML or JSONC config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&listen, "listen", "", "server URL, tcp://host:port or local://path (overrides the config file)")
	flagSet.StringVar(&label, "label", "", "label announced to clients (overrides the config file)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return process.Usagef("%v", err)
	}
	if showVersion {
		fmt.Printf("modelsync-probe %s\n", version.Full())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return process.Usagef("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if label != "" {
		cfg.Label = label
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := process.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := process.NewLogger(level)
	compression, err := protocol.ParseCompressionTag(cfg.Compression.Algorithm)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server := endpoint.NewServer(endpoint.ServerOptions{
		Label:            cfg.Label,
		Compression:      protocol.Compression{Tag: compression, Threshold: cfg.Compression.Threshold},
		Statistics:       endpoint.NewStatistics(registry, "server"),
		Logger:           logger,
		Announce:         cfg.Broadcast.Enabled,
		AnnounceInterval: cfg.Broadcast.Interval,
	})
	objects := broker.New(server, broker.Options{
		Model:     remotemodel.ServerOptions{IconSize: cfg.IconSize},
		Selection: selection.ServerOptions{Debounce: cfg.SelectionDebounce},
		Logger:    logger,
	})
	defer func() {
		if err := objects.Clear(); err != nil {
			logger.Warn("clearing broker", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	content, err := newDemo(objects, logger)
	if err != nil {
		return fmt.Errorf("publishing demo content: %w", err)
	}
	go content.run(ctx)

	if cfg.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.MetricsAddress, registry, logger)
	}

	device, err := transport.NewDevice(cfg.Listen, transport.Options{
		BroadcastPort:    cfg.Broadcast.Port,
		DisableBroadcast: !cfg.Broadcast.Enabled,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	objectNames, modelNames := objects.Names()
	logger.Info("probe starting",
		"listen", cfg.Listen,
		"label", server.Label(),
		"instance", server.Instance(),
		"models", modelNames,
		"objects", objectNames,
		"version", version.Info(),
	)
	if err := server.Serve(ctx, device); err != nil {
		return fmt.Errorf("serving %s: %w (%s)", cfg.Listen, err, device.ErrorString())
	}
	logger.Info("probe stopped")
	return nil
}

// loadConfig reads path, or MODELSYNC_CONFIG when path is empty.
// Without either the defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoConfig) {
		return config.Default(), nil
	}
	return cfg, err
}

// serveMetrics serves the registry on address until ctx is done.
func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	httpServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownContext)
	}()
	logger.Info("serving metrics", "address", address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics listener failed", "address", address, "error", err)
	}
}

// Package main implements the gadgetmesh node binary. A node hosts a gadget
// registry, a plumber routing bus, a BL/T protocol listener, a Prometheus
// endpoint, and optional snapshot persistence backed by NATS JetStream KV.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/gadgetmesh/blt"
	"github.com/c360/gadgetmesh/config"
	"github.com/c360/gadgetmesh/gadget"
	"github.com/c360/gadgetmesh/metric"
	"github.com/c360/gadgetmesh/natsclient"
	"github.com/c360/gadgetmesh/plumber"
	"github.com/c360/gadgetmesh/registry"
	"github.com/c360/gadgetmesh/storage"
	"github.com/c360/gadgetmesh/storage/memory"
	"github.com/c360/gadgetmesh/storage/natskv"
	"github.com/c360/gadgetmesh/wiring"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "gadgetmesh"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("node failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.NewLoader().Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(effectiveLogging(cliCfg, cfg))
	slog.SetDefault(logger)
	slog.Info("starting gadgetmesh node",
		"version", Version,
		"build_time", BuildTime,
		"network", cfg.Node.NetworkID,
		"group", cfg.Node.GroupID)

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	ctx := context.Background()

	metricsRegistry := metric.NewMetricsRegistry()
	core := metricsRegistry.CoreMetrics()

	scope := registry.New()
	bus, err := buildPlumber(cfg, scope, logger, core)
	if err != nil {
		return err
	}

	store, natsClient, err := openStorage(ctx, cfg, core)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer func() { _ = natsClient.Close(ctx) }()
	}

	keeper := newKeeper(store, storage.Address{
		NetworkID: cfg.Node.NetworkID,
		GroupID:   cfg.Node.GroupID,
	}, scope, func(g gadget.Gadget) { bus.Attach(g) }, logger, gadget.WithMetrics(core))
	if err := keeper.restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	if err := applyTopology(cliCfg.TopologyPath, scope, core); err != nil {
		return err
	}

	bltServer, err := blt.NewServer(cfg.BLT, scope,
		blt.WithLogger(logger),
		blt.WithMetrics(core),
		blt.WithPlumber(bus))
	if err != nil {
		return fmt.Errorf("create protocol server: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
	}

	return runWithSignalHandling(ctx, cfg, cliCfg, bltServer, metricsServer, keeper)
}

// buildPlumber creates the routing bus and installs configured rules.
func buildPlumber(
	cfg *config.Config,
	scope *registry.Registry,
	logger *slog.Logger,
	core *metric.Metrics,
) (*plumber.Plumber, error) {
	opts := []plumber.Option{plumber.WithLogger(logger), plumber.WithMetrics(core)}
	if cfg.Plumber.HistoryCapacity > 0 {
		opts = append(opts, plumber.WithHistoryCapacity(cfg.Plumber.HistoryCapacity))
	}
	bus, err := plumber.New(scope, opts...)
	if err != nil {
		return nil, fmt.Errorf("create plumber: %w", err)
	}
	for _, rc := range cfg.Plumber.Rules {
		if err := bus.AddRule(rc.Rule()); err != nil {
			return nil, fmt.Errorf("install rule %s: %w", rc.Name, err)
		}
	}
	slog.Info("routing bus ready", "rules", len(cfg.Plumber.Rules))
	return bus, nil
}

// openStorage builds the snapshot store. The NATS client is returned so the
// caller can close it at shutdown; it is nil for the memory backend.
func openStorage(ctx context.Context, cfg *config.Config, core *metric.Metrics) (storage.Store, *natsclient.Client, error) {
	if cfg.Storage.Mode != config.StorageModeNATS {
		return memory.New(), nil, nil
	}

	opts := []natsclient.Option{
		natsclient.WithClientName(appName + "/" + cfg.Node.NetworkID + "." + cfg.Node.GroupID),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(core),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URLs[0], opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, nil, err
	}

	kv, err := client.KeyValue(ctx, cfg.Storage.Bucket)
	if err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	store, err := natskv.New(kv)
	if err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	slog.Info("snapshot store ready", "backend", "nats", "bucket", cfg.Storage.Bucket)
	return store, client, nil
}

// applyTopology spawns and wires gadgets from a topology document, when one
// was given on the command line.
func applyTopology(path string, scope *registry.Registry, core *metric.Metrics) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read topology %s: %w", path, err)
	}
	in, err := wiring.NewInterpreter(scope, gadget.WithMetrics(core))
	if err != nil {
		return err
	}
	if err := in.ApplyDocument(data); err != nil {
		return fmt.Errorf("apply topology %s: %w", path, err)
	}
	slog.Info("topology applied", "path", path)
	return nil
}

// runWithSignalHandling starts the servers and blocks until a shutdown
// signal arrives, then stops everything within the shutdown timeout.
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	cliCfg *CLIConfig,
	bltServer *blt.Server,
	metricsServer *metric.Server,
	keeper *keeper,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := bltServer.Start(signalCtx); err != nil {
		return fmt.Errorf("start protocol server: %w", err)
	}
	slog.Info("protocol server listening", "addr", bltServer.Addr())

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		slog.Info("metrics endpoint ready", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	keeper.start(signalCtx, cliCfg.PersistInterval)

	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer shutdownCancel()

	var firstErr error
	if err := keeper.shutdown(shutdownCtx); err != nil {
		slog.Error("final persist failed", "error", err)
		firstErr = err
	}
	if err := bltServer.Stop(cliCfg.ShutdownTimeout); err != nil {
		slog.Error("protocol server stop failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Error("metrics server stop failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", firstErr)
	}
	slog.Info("gadgetmesh shutdown complete")
	return nil
}

func effectiveLogging(cliCfg *CLIConfig, cfg *config.Config) config.LoggingConfig {
	out := cfg.Logging
	if cliCfg.LogLevel != "" {
		out.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		out.Format = cliCfg.LogFormat
	}
	return out
}

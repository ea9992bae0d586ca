package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"golang.org/x/sync/errgroup"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
	"github.com/joker-joker-yuan/profile-bridge/internal/auth"
	"github.com/joker-joker-yuan/profile-bridge/internal/config"
	"github.com/joker-joker-yuan/profile-bridge/internal/health"
	"github.com/joker-joker-yuan/profile-bridge/internal/logging"
	"github.com/joker-joker-yuan/profile-bridge/internal/payload"
	"github.com/joker-joker-yuan/profile-bridge/internal/sampler"
	"github.com/joker-joker-yuan/profile-bridge/internal/scheduler"
	"github.com/joker-joker-yuan/profile-bridge/internal/stats"
	"github.com/joker-joker-yuan/profile-bridge/internal/telemetry"
	tlspkg "github.com/joker-joker-yuan/profile-bridge/internal/tls"
	"github.com/joker-joker-yuan/profile-bridge/internal/uploader"
)

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowHelp {
		config.PrintUsage()
		os.Exit(0)
	}

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	logging.SetDebug(cfg.Debug)
	logging.SetResource(map[string]string{
		"service.name":    cfg.ServiceName,
		"service.version": config.Version(),
	})

	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	// Derive GOMEMLIMIT from the container memory limit (cgroups) so the
	// bridge stays within its allocation when embedded in small pods.
	if limit, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(cfg.MemoryLimitRatio),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		logging.Warn("could not set GOMEMLIMIT", logging.F("error", err.Error()))
	} else {
		logging.Debug("GOMEMLIMIT set", logging.F("bytes", limit, "ratio", cfg.MemoryLimitRatio))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Self-telemetry (disabled unless an OTLP endpoint is configured).
	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), cfg.ServiceName, config.Version())
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.Info("self-telemetry enabled", logging.F(
			"endpoint", cfg.TelemetryEndpoint,
			"protocol", cfg.TelemetryProtocol,
		))
	}

	compressionCfg, err := cfg.CompressionConfig()
	if err != nil {
		logging.Fatal("invalid compression configuration", logging.F("error", err.Error()))
	}

	if cfg.AuthToken == "" {
		logging.Warn("auth token is empty, profile will not be reported", logging.F(
			"hint", "set -auth-token or the TOKEN environment variable",
		))
	}

	acc := accumulator.New(cfg.AccumulatorCapacity)

	up, err := uploader.New(cfg.UploaderConfig())
	if err != nil {
		logging.Fatal("failed to create uploader", logging.F("error", err.Error()))
	}
	defer up.Close()

	sched := scheduler.New(scheduler.Config{
		Interval:     cfg.ExportInterval,
		CycleTimeout: cfg.CycleTimeout,
		FlushTimeout: cfg.FlushTimeout,
		Metadata: payload.Metadata{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
			Host:        cfg.Host,
			AuthToken:   cfg.AuthToken,
		},
		Compression: compressionCfg,
	}, acc, up)
	sched.Start()

	var smp *sampler.Sampler
	if cfg.SamplerEnabled {
		smp = sampler.New(cfg.SamplerConfig(), acc)
		smp.Start()
	}

	checker := health.New()
	checker.RegisterReadiness("export_recency", health.ExportRecency(up.LastSuccess, 3*cfg.ExportInterval))

	statsServer, err := stats.NewServer(stats.ServerConfig{
		Addr: cfg.StatsAddr,
		TLS: tlspkg.ServerConfig{
			Enabled:  cfg.StatsTLSEnabled,
			CertFile: cfg.StatsTLSCertFile,
			KeyFile:  cfg.StatsTLSKeyFile,
		},
		Auth: auth.ServerConfig{
			Enabled:           cfg.StatsAuthEnabled,
			BearerToken:       cfg.StatsBearerToken,
			BasicAuthUsername: cfg.StatsBasicUsername,
			BasicAuthPassword: cfg.StatsBasicPassword,
		},
	}, checker)
	if err != nil {
		logging.Fatal("failed to create ops endpoint", logging.F("error", err.Error()))
	}

	var g errgroup.Group
	g.Go(func() error {
		logging.Info("ops endpoint started", logging.F("addr", cfg.StatsAddr))
		if err := statsServer.Start(); err != nil {
			logging.Error("ops endpoint error", logging.F("error", err.Error()))
		}
		return nil
	})

	go stats.NewCollector().StartPeriodicLogging(ctx, 30*time.Second)

	logging.Info("profile-bridge started", logging.F(
		"service_name", cfg.ServiceName,
		"endpoint", cfg.Endpoint,
		"export_interval", cfg.ExportInterval.String(),
		"compression", cfg.Compression,
		"sampler_enabled", cfg.SamplerEnabled,
		"stats_addr", cfg.StatsAddr,
		"version", config.Version(),
	))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")

	checker.SetShuttingDown()
	if smp != nil {
		smp.Stop()
	}
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	statsServer.Shutdown(shutdownCtx)
	shutdownCancel()
	cancel()
	_ = g.Wait()

	if tel.Enabled() {
		logging.SetHook(nil)
		telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		if err := tel.Shutdown(telCtx); err != nil {
			logging.Warn("telemetry shutdown error", logging.F("error", err.Error()))
		}
		telCancel()
	}

	logging.Info("shutdown complete")
}

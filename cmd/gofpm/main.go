// gofpm daemon -- streams forwarding state to an FPM peer over TCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gofpm/internal/admin"
	"github.com/dantte-lp/gofpm/internal/config"
	"github.com/dantte-lp/gofpm/internal/dataplane"
	"github.com/dantte-lp/gofpm/internal/fpm"
	"github.com/dantte-lp/gofpm/internal/kernel"
	fpmmetrics "github.com/dantte-lp/gofpm/internal/metrics"
	appversion "github.com/dantte-lp/gofpm/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("gofpm"))
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log.Format, logLevel)

	logger.Info("gofpm starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	if err := runDaemon(cfg, logger, logLevel); err != nil {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gofpm stopped")
	return 0
}

// newLogger builds the root slog logger per the configured format.
func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// runDaemon wires the engine, the FPM session, the admin and metrics
// servers, and the optional kernel mirror, then runs until a signal.
func runDaemon(cfg *config.Config, logger *slog.Logger, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	eng := dataplane.New(logger,
		dataplane.WithV6ReplaceSemantics(cfg.FPM.V6ReplaceSemantics),
	)
	eng.Start()
	defer eng.Stop()

	session := fpm.NewSession(logger, eng)
	if _, err := eng.RegisterProvider(fpm.ProviderName, session); err != nil {
		return fmt.Errorf("register fpm provider: %w", err)
	}

	if err := applyFPMConfig(cfg, session); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	fpmmetrics.NewCollector(session, reg)

	g, gCtx := errgroup.WithContext(ctx)

	startHTTPServers(gCtx, g, cfg, session, reg, logger)

	if cfg.Kernel.Enabled {
		mirror := kernel.New(logger, eng)
		g.Go(func() error { return mirror.Run(gCtx) })
	}

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		return handleSIGHUP(gCtx, sigHUP, cfg, session, logLevel, logger)
	})

	g.Go(func() error { return runWatchdog(gCtx, logger) })

	notifyReady(logger)
	err := g.Wait()
	notifyStopping(logger)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyFPMConfig pushes the static FPM configuration into the session.
func applyFPMConfig(cfg *config.Config, session *fpm.Session) error {
	session.SetUseNextHopGroups(cfg.FPM.UseNextHopGroups)

	ap, err := cfg.FPM.PeerAddr()
	if err != nil {
		return err
	}
	if ap.Addr().IsValid() {
		if err := session.SetAddress(ap); err != nil {
			return fmt.Errorf("configure fpm address: %w", err)
		}
	}
	return nil
}

// startHTTPServers launches the admin API (h2c) and the Prometheus
// endpoint, each with a context-driven graceful shutdown.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	session *fpm.Session,
	reg *prometheus.Registry,
	logger *slog.Logger,
) {
	_, adminHandler := admin.New(logger, session)
	adminSrv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           h2c.NewHandler(adminHandler, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("admin API listening", slog.String("addr", cfg.Admin.Addr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return shutdownServer(adminSrv)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("metrics listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return shutdownServer(metricsSrv)
	})
}

// shutdownServer drains srv within shutdownTimeout.
func shutdownServer(srv *http.Server) error {
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// systemd integration
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. The interval
// is WatchdogSec/2 as recommended by the systemd documentation. If the
// watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + FPM peer address
// -------------------------------------------------------------------------

// handleSIGHUP reloads the configuration file on SIGHUP, applying the log
// level and any FPM peer address change.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	cfg *config.Config,
	session *fpm.Session,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigHUP:
			logger.Info("SIGHUP received, reloading configuration")
			reloadConfig(cfg, session, logLevel, logger)
		}
	}
}

// reloadConfig re-reads the config file and applies the reloadable bits.
func reloadConfig(
	old *config.Config,
	session *fpm.Session,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	// The daemon only knows a path when one was given at startup; an
	// env-only deployment reloads nothing.
	path := configPathFromArgs()
	if path == "" {
		logger.Warn("no configuration file to reload")
		return
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("configuration reload failed, keeping previous",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger.Info("log level reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", logLevel.Level().String()),
	)

	if cfg.FPM != old.FPM {
		if err := applyFPMConfig(cfg, session); err != nil {
			logger.Error("fpm configuration reload failed",
				slog.String("error", err.Error()),
			)
			return
		}
		old.FPM = cfg.FPM
		logger.Info("fpm configuration reloaded")
	}
}

// configPathFromArgs re-resolves the -config flag value after parsing.
func configPathFromArgs() string {
	if f := flag.Lookup("config"); f != nil {
		return f.Value.String()
	}
	return ""
}

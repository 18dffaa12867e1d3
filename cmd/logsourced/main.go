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

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/modoterra/logsource/internal/buildinfo"
	"github.com/modoterra/logsource/pkg/config"
	"github.com/modoterra/logsource/pkg/daemon"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/manifest"
	"github.com/modoterra/logsource/pkg/providers/systemd"
	"github.com/modoterra/logsource/pkg/transport/uds"
)

var (
	configPath   string
	manifestPath string
	socketPath   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "logsourced",
	Short:        "Forward application log streams to a message sink",
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("logsourced"))
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/logsource/config.yaml)")
	rootCmd.Flags().StringVar(&manifestPath, "manifest", "", "manifest to load at startup (default ./"+manifest.DefaultFile+" if present)")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "control socket path")
	rootCmd.AddCommand(versionCmd)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Socket = socketPath
	}
	if manifestPath != "" {
		cfg.Manifest = manifestPath
	}
	if cfg.Manifest == "" {
		if _, err := os.Stat(manifest.DefaultFile); err == nil {
			cfg.Manifest = manifest.DefaultFile
		}
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The sink is fixed for the daemon's lifetime; later LoadManifest calls
	// only replace sources.
	sinkDef := manifest.Sink{}
	if cfg.Manifest != "" {
		if m, err := manifest.Load(cfg.Manifest); err == nil {
			sinkDef = m.Sink
		} else {
			logger.Warn("manifest not readable, using default sink", "path", cfg.Manifest, logging.Error(err))
		}
	}

	server := uds.NewServer(cfg.Socket, logger)
	out, err := buildSink(ctx, sinkDef, cfg, server, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn("closing sink", logging.Error(err))
		}
	}()

	registry := daemon.NewRegistry(ctx, newClientFactory(logger), out, logger)
	d := daemon.New(server, registry, logger)
	defer d.Shutdown()

	enricher := systemd.NewEnricher(systemd.SystemBus, logger)
	d.AddEnricher(enricher.Enrich)

	if cfg.Manifest != "" {
		if _, err := d.LoadManifest(ctx, cfg.Manifest); err != nil {
			logger.Warn("manifest not loaded", "path", cfg.Manifest, logging.Error(err))
		}
	} else {
		logger.Info("no manifest, waiting for LoadManifest")
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	go daemon.NewPollLoop(d, cfg.PollInterval, logger).Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	logger.Info("starting logsourced", "version", buildinfo.Version, "socket", cfg.Socket, "sink", sinkDef.Kind)
	notify(logger, sddaemon.SdNotifyReady)

	err = <-errCh
	notify(logger, sddaemon.SdNotifyStopping)
	if err != nil {
		logger.Error("daemon error", logging.Error(err))
		return err
	}
	logger.Info("shutting down")
	return nil
}

func notify(logger *slog.Logger, state string) {
	if _, err := sddaemon.SdNotify(false, state); err != nil {
		logger.Debug("sd_notify failed", "state", state, logging.Error(err))
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", logging.Error(err))
	}
}

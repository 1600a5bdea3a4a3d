package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/OmRatnaparkhe/WeMeet/internal/config"
	"github.com/OmRatnaparkhe/WeMeet/internal/httpserver"
	"github.com/OmRatnaparkhe/WeMeet/internal/metrics"
	"github.com/OmRatnaparkhe/WeMeet/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := 1
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wemeet-signaling",
		Short: "WebSocket signaling relay for WeMeet calls",
		// Flags belong to config.Load so env, file and flag precedence is
		// resolved in one place.
		DisableFlagParsing: true,
		Args:               cobra.ArbitraryArgs,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args)
		},
	}
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			commit, built := resolveBuildInfo(buildCommit, buildTime)
			if commit == "" {
				commit = "unknown"
			}
			if built == "" {
				built = "unknown"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "commit=%s build_time=%s\n", commit, built)
			return err
		},
	}
}

func run(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{code: 2, err: err}
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	slog.SetDefault(logger)

	logger.Info("starting wemeet-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"allowed_origins", cfg.AllowedOrigins,
		"ws_idle_timeout", cfg.SignalingWSIdleTimeout,
		"ws_ping_interval", cfg.SignalingWSPingInterval,
		"max_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"send_queue_bytes", cfg.SignalingSendQueueBytes,
		"ice_servers", len(cfg.ICEServers),
	)

	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		return &exitError{code: 1, err: err}
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	m := metrics.New()

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)

	relayCfg := signaling.ConfigFrom(cfg)
	relayCfg.Logger = logger
	relayCfg.Metrics = m
	relay := signaling.NewServer(relayCfg)
	relay.RegisterRoutes(srv.Router())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "err", err)
		}
		// Hijacked signaling sockets outlive http.Server.Shutdown.
		relay.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server exited", "err", err)
		return &exitError{code: 1, err: err}
	}
	logger.Info("shutdown complete")
	return nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}

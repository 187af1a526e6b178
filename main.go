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
	"syscall"

	"github.com/spf13/pflag"

	"remotedesk/internal/config"
	"remotedesk/internal/relay"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case config.ModeRelay:
		err = runRelay(ctx, cfg, logger)
	case config.ModePeer:
		err = runPeer(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown mode %q (use 'relay' or 'peer')", cfg.Mode)
	}
	if err != nil {
		logger.Error("exiting", "mode", cfg.Mode, "err", err)
		os.Exit(1)
	}
}

func runRelay(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	srv := relay.NewServer(relay.Config{
		IdleTimeout: cfg.Relay.IdleTimeout,
		TokenSecret: cfg.Relay.TokenSecret,
		Logger:      logger,
	})

	ln, err := net.Listen("tcp", cfg.Relay.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	httpSrv := &http.Server{Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()
	logger.Info("relay started",
		"listen_addr", ln.Addr().String(),
		"idle_timeout", cfg.Relay.IdleTimeout,
		"token_required", cfg.Relay.TokenSecret != "",
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown.
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("relay shutdown failed", "err", err)
	}
	srv.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve after shutdown: %w", err)
	}
	return nil
}

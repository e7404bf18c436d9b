package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"assistd/internal/httpapi"
)

func newServeCmd(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, d)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default 0.0.0.0:8000)")
	f.Int("max-queue-depth", 0, "Requests allowed to wait for the model")
	f.Duration("max-wait", 0, "How long a queued request waits before 429")
	f.Duration("request-timeout", 0, "Upper bound for one /chat request")
	f.Int64("max-body-bytes", 0, "Maximum /chat body size")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (comma separated)")
	f.Duration("shutdown-timeout", 0, "Grace period for in-flight requests on shutdown")
	return cmd
}

// runServe blocks until ctx ends or the model fails to load.
func runServe(cmd *cobra.Command, d deps) error {
	ctx := cmd.Context()
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log := buildLogger(cfg, d.stderr)

	mgr := newManager(ctx, d, cfg, d.registry, log)

	httpapi.SetLogger(log)
	httpapi.SetDefaultLogLevel(cfg.LogLevel)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetRequestTimeout(time.Duration(cfg.RequestTimeout))
	httpapi.SetCORSOrigins(cfg.CORSOrigins)
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = mgr.Close()
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	log.Info().Str("addr", ln.Addr().String()).Str("model", cfg.ModelID).Msg("assistd listening")
	if d.listening != nil {
		d.listening(ln.Addr().String())
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	// The API answers 503 on /chat until the model is ready.
	go func() {
		if err := mgr.Load(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("stopping server")
	}

	shutdownTimeout := time.Duration(cfg.ShutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Dur("timeout", shutdownTimeout).Msg("graceful shutdown timed out; canceling in-flight requests")
		cancelBase()
		_ = srv.Close()
	}
	if err := mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("model close")
	}
	log.Info().Msg("server stopped")
	return runErr
}

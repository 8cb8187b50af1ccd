package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/credledger/pkg/api"
	"github.com/Mindburn-Labs/credledger/pkg/archive"
)

const idempotencyTTL = 24 * time.Hour

// runServer serves the HTTP API until SIGINT or SIGTERM.
func runServer(_, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, os.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.Close(context.Background())

	opts, cleanup, err := serverOptions(ctx, a)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	srv, err := api.NewServer(a.svc, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	httpSrv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("credledger ready", "addr", httpSrv.Addr, "version", version, "backend", a.cfg.LedgerBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("server failed", "error", err)
			return 2
		}
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown failed", "error", err)
		return 2
	}
	return 0
}

// serverOptions builds the middleware stack from configuration: JWT auth when
// a secret is set, a Redis or in-process rate limiter, the idempotency cache,
// and archive export when a signing secret is available.
func serverOptions(ctx context.Context, a *app) ([]api.ServerOption, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for _, c := range cleanups {
			c()
		}
	}

	opts := []api.ServerOption{
		api.WithLogger(a.logger.With("component", "api")),
		api.WithIdempotency(api.NewMemoryIdempotencyStore(idempotencyTTL)),
	}

	if a.cfg.JWTSecret != "" {
		v, err := api.NewJWTValidator([]byte(a.cfg.JWTSecret))
		if err != nil {
			return nil, cleanup, fmt.Errorf("auth: %w", err)
		}
		opts = append(opts, api.WithAuth(v))
	} else {
		a.logger.Warn("AUTH_JWT_SECRET not set; API authentication disabled")
	}

	if a.cfg.RedisURL != "" {
		rl, err := api.NewRedisRateLimiter(a.cfg.RedisURL, a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
		if err != nil {
			return nil, cleanup, fmt.Errorf("redis limiter: %w", err)
		}
		if err := rl.Ping(ctx); err != nil {
			a.logger.Warn("redis unreachable; rate limiting fails open until it recovers", "error", err)
		}
		cleanups = append(cleanups, func() { _ = rl.Close() })
		opts = append(opts, api.WithLimiter(rl))
	} else {
		rl := api.NewLocalRateLimiter(a.cfg.RateLimitRPS, a.cfg.RateLimitBurst)
		cleanups = append(cleanups, rl.Close)
		opts = append(opts, api.WithLimiter(rl))
	}

	if a.cfg.SigningSecret != "" {
		signer, err := a.signer()
		if err != nil {
			return nil, cleanup, err
		}
		sink, err := archive.NewSink(ctx, archive.SinkType(a.cfg.ArchiveSink), a.cfg.ArchiveTarget)
		if err != nil {
			return nil, cleanup, err
		}
		a.logger.Info("archive export enabled", "sink", a.cfg.ArchiveSink, "key_id", signer.KeyID(), "public_key", signer.PublicKey())
		opts = append(opts, api.WithArchive(signer, sink))
	}

	return opts, cleanup, nil
}

// runHealthCmd probes a running server.
func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var addr string
	cmd.StringVar(&addr, "addr", "", "Server base URL (default http://localhost:$PORT)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if addr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		addr = "http://localhost:" + port
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}

// Package gateway orchestrates login, logout, and the protected-page check.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/dlorenzo/portfolio-gate/internal/accesslog"
	"github.com/dlorenzo/portfolio-gate/internal/config"
	"github.com/dlorenzo/portfolio-gate/internal/credential"
	"github.com/dlorenzo/portfolio-gate/internal/ratelimit"
	"github.com/dlorenzo/portfolio-gate/internal/token"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Gateway wires the rate limiter, credential verifier, token service, and
// access log behind the HTTP auth surface.
type Gateway struct {
	cfg     *config.Config
	limiter *ratelimit.Limiter
	cred    credential.Stored
	credErr error
	tokens  *token.Service
	logs    *accesslog.Store
	log     zerolog.Logger

	// delay applies the randomized anti-timing pause; replaced in tests.
	delay func(ctx context.Context)
}

// New constructs a Gateway. Missing credential material is not an error
// here: login requests are answered with a 500 until it is configured.
func New(cfg *config.Config, logs *accesslog.Store, log zerolog.Logger) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		limiter: ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMaxAttempts),
		logs:    logs,
		log:     log,
	}
	g.delay = g.antiTimingDelay

	g.cred, g.credErr = credential.FromConfig(cfg.PasswordHash, cfg.PasswordPlaintext)
	if g.credErr == nil && g.cred.Deprecated() {
		log.Warn().Msg("PASSWORD_PLAINTEXT fallback in use; generate a hash with the hash subcommand and set PASSWORD_HASH")
	}
	if cfg.AuthSecret != "" {
		g.tokens = token.NewService(cfg.AuthSecret, cfg.TokenTTL)
	}
	return g
}

// Routes returns the application handler.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", g.handleLogin)
	mux.HandleFunc("/auth/logout", g.handleLogout)
	mux.HandleFunc("/portfolio", g.handlePortfolio)
	return mux
}

// Run starts all listeners and the janitor, blocking until ctx is
// cancelled or a fatal error occurs.
func (g *Gateway) Run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return g.serveApp(gctx)
	})

	if g.cfg.MetricsEnabled {
		grp.Go(func() error {
			return g.serveMetrics(gctx)
		})
	}

	grp.Go(func() error {
		return g.serveHealth(gctx)
	})

	janitor := NewJanitor(g.limiter, g.logs, g.cfg.JanitorInterval, g.log)
	grp.Go(func() error {
		return janitor.Run(gctx)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveApp runs the auth HTTP server.
func (g *Gateway) serveApp(ctx context.Context) error {
	srv := &http.Server{
		Addr:    g.cfg.ListenAddr,
		Handler: g.Routes(),
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	g.log.Info().Str("addr", g.cfg.ListenAddr).Msg("auth server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("auth server: %w", err)
	}
	return nil
}

// serveMetrics runs the Prometheus HTTP server.
func (g *Gateway) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    g.cfg.MetricsAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	g.log.Info().Str("addr", g.cfg.MetricsAddr).Msg("Prometheus metrics server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// serveHealth runs the health endpoints.
func (g *Gateway) serveHealth(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// Ready once the log partition is writable
		if _, err := g.logs.SizeBytes(); err != nil {
			http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{
		Addr:    g.cfg.HealthAddr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	g.log.Info().Str("addr", g.cfg.HealthAddr).Msg("health server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// antiTimingDelay pauses 100-300ms (configurable, uniformly distributed)
// to flatten the timing difference between valid and invalid credential
// paths. Suspends only the current request.
func (g *Gateway) antiTimingDelay(ctx context.Context) {
	lo, hi := g.cfg.AuthDelayMin, g.cfg.AuthDelayMax
	d := lo
	if span := hi - lo; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

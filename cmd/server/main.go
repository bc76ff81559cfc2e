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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tendant/simple-token/pkg/simpletoken"
	"github.com/tendant/simple-token/pkg/simpletoken/api"
	"github.com/tendant/simple-token/pkg/simpletoken/config"
	"github.com/tendant/simple-token/pkg/simpletoken/metrics"
	"github.com/tendant/simple-token/pkg/simpletoken/sweeper"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	comps, err := cfg.BuildService(ctx, logger,
		simpletoken.WithEventSink(simpletoken.MultiEventSink{
			simpletoken.NewLogEventSink(logger),
			m.EventSink(),
		}))
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer comps.Close()

	auth, err := newAuthenticator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Service:        comps.Service,
		Verifier:       comps.Verifier,
		Authenticator:  auth,
		Metrics:        m,
		Gatherer:       reg,
		UploadDomain:   cfg.UploadDomain,
		DownloadDomain: cfg.DownloadDomain,
		Logger:         logger,
	})

	sw := sweeper.New(comps.Service, cfg.SweepInterval, logger, sweeper.WithObserver(m))
	go sw.Run(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Token server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"database", cfg.DatabaseType,
			"bucket", cfg.Bucket)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}

func newAuthenticator(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (*api.Authenticator, error) {
	opts := []api.AuthOption{
		api.WithElevatedRoles(cfg.ElevatedRoles...),
		api.WithRolesClaim(cfg.RolesClaim),
		api.WithAuthLogger(logger),
	}
	if cfg.JWKSURL != "" {
		return api.NewJWKSAuthenticator(ctx, cfg.JWKSURL, opts...)
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET or JWKS_URL must be set")
	}
	return api.NewHMACAuthenticator([]byte(cfg.JWTSecret), opts...), nil
}

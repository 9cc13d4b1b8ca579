package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/basedlink/basedlink-pay/api"
	"github.com/basedlink/basedlink-pay/auth"
	"github.com/basedlink/basedlink-pay/config"
	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/notify"
	"github.com/basedlink/basedlink-pay/payments"
	"github.com/basedlink/basedlink-pay/reconcile"
	"github.com/basedlink/basedlink-pay/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reconciliation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireServer(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()
	log.Info("starting basedlinkd", map[string]any{"version": version, "network": cfg.Network})

	recorder, gatherer := newRecorder(cfg)

	bl, err := newBasedlink(ctx, cfg, log, recorder)
	if err != nil {
		return err
	}
	defer bl.Close()

	st, err := store.NewSQLiteStore(cfg.DatabasePath, log)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	publisher := newPublisher(cfg, log)
	defer publisher.Close()

	sessions, err := auth.NewVerifier(cfg.JWTSecret, auth.WithIssuer(cfg.JWTIssuer), auth.WithLeeway(30*time.Second))
	if err != nil {
		return fmt.Errorf("configuring sessions: %w", err)
	}

	svc := payments.NewService(st, bl.Verifier(),
		payments.WithLogger(log),
		payments.WithMetrics(recorder),
		payments.WithPublisher(publisher),
		payments.WithNetwork(bl.Network()),
		payments.WithMinConfirmations(cfg.MinConfirmations),
	)

	srv := api.New(api.Config{
		CORSOrigins:      cfg.CORSOrigins,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		MinConfirmations: cfg.MinConfirmations,
	}, api.Deps{
		Service:    svc,
		Verifier:   bl.Verifier(),
		Auth:       sessions,
		Logger:     log,
		Metrics:    recorder,
		Gatherer:   gatherer,
		Ping:       st.Ping,
		ChainState: bl.ChainState,
	})
	defer srv.Close()

	var reconciler *reconcile.Reconciler
	if cfg.ReconcileSchedule != "" {
		reconciler = reconcile.New(svc, cfg.ReconcileSchedule, cfg.ReconcileBatchSize, log)
		if err := reconciler.Start(); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("server listening", map[string]any{"addr": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var serveErr error
	select {
	case err := <-errChan:
		serveErr = fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("shutting down", map[string]any{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if reconciler != nil {
		reconciler.Stop(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("shutdown error: %w", err)
	}

	log.Info("server stopped", nil)
	return serveErr
}

// newPublisher connects to RabbitMQ when configured. A broker that cannot be
// reached is logged and replaced by a no-op publisher.
func newPublisher(cfg *config.Config, log logger.Logger) notify.Publisher {
	if cfg.AMQPURL == "" {
		return notify.NoopPublisher{Logger: log}
	}
	p, err := notify.NewRabbitPublisher(cfg.AMQPURL, log)
	if err != nil {
		log.Warn("rabbitmq unavailable, payment events will not be published", map[string]any{"error": err})
		return notify.NoopPublisher{Logger: log}
	}
	return p
}

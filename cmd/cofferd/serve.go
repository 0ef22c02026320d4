package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/coffer"
	"github.com/xraph/coffer/api"
	audithook "github.com/xraph/coffer/audit_hook"
	"github.com/xraph/coffer/content"
	"github.com/xraph/coffer/observability"
	"github.com/xraph/coffer/store"
)

func newServeCmd(load func() (*Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

// runServe runs the API until ctx is canceled, then drains in-flight
// requests and the engagement queue.
func runServe(ctx context.Context, cfg *Config) error {
	logger := cfg.logger()
	slog.SetDefault(logger)

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := newEngine(cfg, s, reg, logger)
	if err != nil {
		_ = s.Close()
		return err
	}
	if err := engine.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}

	r := chi.NewRouter()
	r.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	if cfg.WebhookSecret == "" {
		logger.Warn("webhook_secret is empty, payment credits are refused")
	}
	r.Mount("/", api.NewRouter(api.NewHandler(engine,
		api.WithLogger(logger),
		api.WithWebhookSecret(cfg.WebhookSecret),
	)))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("cofferd listening", "addr", cfg.Listen, "driver", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("cofferd shutting down")
		err := srv.Shutdown(shutdownCtx)
		return errors.Join(err, engine.Stop())
	})
	return g.Wait()
}

func newEngine(cfg *Config, s store.Store, reg prometheus.Registerer, logger *slog.Logger) (*coffer.Coffer, error) {
	opts := []coffer.Option{
		coffer.WithLogger(logger),
		coffer.WithTxTimeout(cfg.Engine.TxTimeout),
		coffer.WithTxAttempts(cfg.Engine.TxAttempts),
		coffer.WithDefaultUnitPrice(cfg.Engine.DefaultUnitPrice),
		coffer.WithEngagementQueue(cfg.Engine.EngagementQueue),
		coffer.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		coffer.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))),
	}
	if cfg.Engine.GrantCacheSize > 0 {
		opts = append(opts, coffer.WithGrantCache(cfg.Engine.GrantCacheSize, cfg.Engine.GrantCacheTTL))
	}
	if cfg.CatalogFile != "" {
		dir, err := content.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		logger.Info("content catalog loaded", "file", cfg.CatalogFile, "units", dir.Len())
		opts = append(opts, coffer.WithDirectory(dir))
	}
	return coffer.New(s, opts...), nil
}

// auditLog writes audit events to the structured log.
func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"user_id", ev.UserID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"metadata", ev.Metadata,
		)
		return nil
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/api"
	"github.com/JakeFAU/giftlist-scraper/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP metadata service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			zap.ReplaceGlobals(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Tracing.Enabled {
				tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
					ServiceName: cfg.Tracing.ServiceName,
					SampleRatio: cfg.Tracing.SampleRatio,
					Exporter:    cfg.Tracing.Exporter,
					Endpoint:    cfg.Tracing.Endpoint,
					Insecure:    cfg.Tracing.Insecure,
				})
				if err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
				defer func() {
					if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.Warn("tracer shutdown failed", zap.Error(err))
					}
				}()
			}

			svc, err := buildServices(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			apiServer := api.NewServer(svc.extractor, cfg, logger.Named("api"), svc.ready...)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lsst-ts/nightreport/internal/app"
	"github.com/lsst-ts/nightreport/internal/config"
	"github.com/lsst-ts/nightreport/internal/logging"
	"github.com/lsst-ts/nightreport/internal/observability"
	"github.com/lsst-ts/nightreport/internal/server"
	"github.com/lsst-ts/nightreport/internal/version"
)

const shutdownTimeout = 10 * time.Second

func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server. Pending schema migrations are applied first
unless AUTO_MIGRATE=false.

Examples:
  SITE_ID=summit nightreport serve
  SITE_ID=base PATH_PREFIX=/nightreport PORT=8080 nightreport`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg := config.Load()
	log := logging.Setup(cfg.SlogLevel())
	if err := cfg.Validate(); err != nil {
		log.Error("refusing to start", "error", err)
		return err
	}

	sentryEnabled, flush := observability.InitSentry(log, cfg, version.Version)
	defer flush()
	if sentryEnabled {
		log = logging.Setup(cfg.SlogLevel(), logging.NewSentryHandler(sentry.CurrentHub()))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, cfg, version.Version)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("database close error", "error", err)
		}
	}()

	if cfg.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			log.Error("migration failed", "error", err)
			return err
		}
	}

	f := server.New(a, server.Options{Sentry: sentryEnabled, AccessLog: true})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "prefix", cfg.PathPrefix, "site_id", cfg.SiteID)
		if err := f.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		return f.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

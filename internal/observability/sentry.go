package observability

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lsst-ts/nightreport/internal/config"
)

// InitSentry configures the global Sentry hub when SENTRY_DSN is set. The
// returned function flushes buffered events and is safe to call either way.
func InitSentry(log *slog.Logger, cfg *config.Config, release string) (enabled bool, flush func()) {
	flush = func() {}
	if cfg.SentryDSN == "" {
		return false, flush
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
		Environment:      cfg.AppEnv,
		Release:          release,
		ServerName:       cfg.SiteID,
	}); err != nil {
		log.Error("sentry init failed", "error", err)
		return false, flush
	}
	return true, func() { sentry.Flush(2 * time.Second) }
}

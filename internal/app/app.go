// Package app holds the state shared by every request: configuration, the
// database pool, the clock and the services built on them. It is built once
// at startup and torn down with Close.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lsst-ts/nightreport/internal/config"
	"github.com/lsst-ts/nightreport/internal/database"
	"github.com/lsst-ts/nightreport/internal/services"
	"github.com/lsst-ts/nightreport/internal/tai"
	"gorm.io/gorm"
)

type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Clock   tai.Clock
	Log     *slog.Logger
	Reports *services.ReportService
}

// New validates cfg, connects to postgres and wires the services.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return FromDB(cfg, db, tai.SystemClock{}, log), nil
}

// FromDB wires the services around an already open database.
func FromDB(cfg *config.Config, db *gorm.DB, clock tai.Clock, log *slog.Logger) *App {
	return &App{
		Config:  cfg,
		DB:      db,
		Clock:   clock,
		Log:     log,
		Reports: services.NewReportService(db, clock, cfg.SiteID, log),
	}
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	n, err := database.Migrate(ctx, a.DB, a.Log)
	if err != nil {
		return err
	}
	a.Log.Info("database schema up to date", "applied", n, "version", database.LatestVersion())
	return nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return database.Close(a.DB)
}

package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/lsst-ts/nightreport/internal/config"
)

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 7: 1} {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestInitOTelDisabled(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	shutdown := InitOTel(context.Background(), log, &config.Config{}, "test")
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitSentryWithoutDSN(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	enabled, flush := InitSentry(log, &config.Config{}, "test")
	if enabled {
		t.Fatal("sentry enabled without a DSN")
	}
	flush()
}

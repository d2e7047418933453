// Package server assembles the fiber application: global middleware, the
// error handler and the routes.
package server

import (
	"errors"
	"log/slog"

	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/lsst-ts/nightreport/internal/app"
	"github.com/lsst-ts/nightreport/internal/dto"
	"github.com/lsst-ts/nightreport/internal/handlers"
	"github.com/lsst-ts/nightreport/internal/middleware"
	"github.com/lsst-ts/nightreport/internal/routes"
)

type Options struct {
	// Sentry adds the Sentry middleware; the hub must already be initialised.
	Sentry bool
	// AccessLog writes one line per request.
	AccessLog bool
}

func New(a *app.App, opts Options) *fiber.App {
	cfg := a.Config

	f := fiber.New(fiber.Config{
		AppName:               "nightreport",
		BodyLimit:             cfg.BodyLimit,
		ErrorHandler:          errorHandler(a.Log),
		DisableStartupMessage: true,
	})

	if opts.Sentry {
		f.Use(sentryfiber.New(sentryfiber.Options{
			Repanic:         true,
			WaitForDelivery: false,
		}))
	}

	f.Use(recover.New())
	f.Use(requestid.New())
	if opts.AccessLog {
		f.Use(fiberlogger.New(fiberlogger.Config{
			Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${locals:requestid}\n",
		}))
	}
	f.Use(middleware.CORS(cfg))
	f.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	routes.Setup(f, cfg,
		handlers.NewReportHandler(a.Reports),
		handlers.NewHealthHandler(a.DB, cfg.SiteID),
		handlers.NewConfigHandler(cfg.SiteID),
		handlers.NewRootHandler(cfg.PathPrefix, cfg.SiteID),
	)
	return f
}

func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal server error"
		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			message = e.Message
		}

		// Only expose error details for client errors (4xx), not server errors (5xx)
		if code >= 500 {
			log.Error("unhandled server error",
				"method", c.Method(),
				"path", c.Path(),
				"request_id", c.Locals("requestid"),
				"error", err.Error(),
			)
			message = "Internal server error"
		}

		return c.Status(code).JSON(dto.ErrorResponse{
			Error:   true,
			Message: message,
		})
	}
}

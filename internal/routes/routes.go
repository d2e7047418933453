package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/lsst-ts/nightreport/internal/config"
	"github.com/lsst-ts/nightreport/internal/handlers"
	"github.com/lsst-ts/nightreport/internal/middleware"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	reportHandler *handlers.ReportHandler,
	healthHandler *handlers.HealthHandler,
	configHandler *handlers.ConfigHandler,
	rootHandler *handlers.RootHandler,
) {
	// Health sits outside the prefix so probes don't depend on deployment paths.
	app.Get("/health", healthHandler.Check)

	api := app.Group(cfg.PathPrefix)

	// Per-IP rate limit, off unless configured
	if cfg.RateLimitPerMinute > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:               cfg.RateLimitPerMinute,
			Expiration:        1 * time.Minute,
			LimiterMiddleware: limiter.SlidingWindow{},
			KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		}))
	}

	api.Get("/", rootHandler.Index)
	api.Get("/configuration", configHandler.GetConfig)

	// Reads are public; writes need a token when JWT_SECRET is set
	write := middleware.WriteProtected(cfg)
	api.Get("/reports", reportHandler.Find)
	api.Get("/reports/:id", reportHandler.Get)
	api.Post("/reports", write, reportHandler.Create)
	api.Patch("/reports/:id", write, reportHandler.Edit)
	api.Delete("/reports/:id", write, reportHandler.Delete)
}

package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lsst-ts/nightreport/internal/database"
	"github.com/lsst-ts/nightreport/internal/dto"
	"github.com/lsst-ts/nightreport/internal/version"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db     *gorm.DB
	siteID string
}

func NewHealthHandler(db *gorm.DB, siteID string) *HealthHandler {
	return &HealthHandler{db: db, siteID: siteID}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	resp := dto.HealthResponse{
		Status:   "ok",
		Database: "ok",
		SiteID:   h.siteID,
		Version:  version.Version,
	}
	if err := database.Ping(ctx, h.db); err != nil {
		status = fiber.StatusServiceUnavailable
		resp.Status = "degraded"
		resp.Database = "unhealthy: " + err.Error()
	}
	return c.Status(status).JSON(resp)
}

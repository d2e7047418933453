package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lsst-ts/nightreport/internal/dto"
)

type ConfigHandler struct {
	siteID string
}

func NewConfigHandler(siteID string) *ConfigHandler {
	return &ConfigHandler{siteID: siteID}
}

// GetConfig reports the site this instance writes reports for.
func (h *ConfigHandler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(dto.ConfigResponse{SiteID: h.siteID})
}

package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
	"github.com/lsst-ts/nightreport/internal/dto"
	"github.com/lsst-ts/nightreport/internal/models"
	"github.com/lsst-ts/nightreport/internal/query"
	"github.com/lsst-ts/nightreport/internal/services"
	"github.com/lsst-ts/nightreport/internal/tai"
)

type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{reportService: reportService}
}

func (h *ReportHandler) Create(c *fiber.Ctx) error {
	var req dto.AddReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	report, err := h.reportService.Add(c.UserContext(), &req)
	if err != nil {
		return reportError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewReportResponse(report))
}

func (h *ReportHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report id")
	}

	report, err := h.reportService.Get(c.UserContext(), id)
	if err != nil {
		return reportError(c, err)
	}
	return c.JSON(dto.NewReportResponse(report))
}

func (h *ReportHandler) Edit(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report id")
	}

	var req dto.EditReportRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	report, err := h.reportService.Edit(c.UserContext(), id, &req)
	if err != nil {
		return reportError(c, err)
	}
	return c.JSON(dto.NewReportResponse(report))
}

func (h *ReportHandler) Delete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report id")
	}

	if err := h.reportService.Delete(c.UserContext(), id); err != nil {
		return reportError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Find lists reports. List parameters are given by repeating the key, e.g.
// ?user_ids=a&user_ids=b. With format=csv the page is returned as CSV.
func (h *ReportHandler) Find(c *fiber.Ctx) error {
	f, err := parseFilter(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	format := strings.ToLower(c.Query("format", "json"))
	if format != "json" && format != "csv" {
		return badRequest(c, "format must be json or csv")
	}

	reports, err := h.reportService.Find(c.UserContext(), f)
	if err != nil {
		return reportError(c, err)
	}
	out := dto.NewReportResponses(reports)

	if format == "json" {
		return c.JSON(out)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	if err := enc.EncodeHeader(dto.ReportRow{}); err != nil {
		return err
	}
	if err := enc.Encode(dto.NewReportRows(out)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="nightreports.csv"`)
	return c.Send(buf.Bytes())
}

// reportError maps service errors to responses. Anything unrecognised goes to
// the app error handler, which logs it and hides the detail.
func reportError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrReportNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Report not found",
		})
	case errors.Is(err, services.ErrReportSuperseded):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.Is(err, services.ErrInvalidReport), errors.Is(err, query.ErrInvalidFilter):
		return badRequest(c, err.Error())
	}
	return err
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}

func parseFilter(c *fiber.Ctx) (query.Filter, error) {
	f := query.New()
	f.SiteIDs = queryList(c, "site_ids")
	f.UserIDs = queryList(c, "user_ids")
	f.UserAgents = queryList(c, "user_agents")
	for _, t := range queryList(c, "telescopes") {
		f.Telescopes = append(f.Telescopes, models.Telescope(t))
	}
	f.OrderBy = queryList(c, "order_by")

	f.Summary = queryString(c, "summary")
	f.TelescopeStatus = queryString(c, "telescope_status")
	f.Weather = queryString(c, "weather")
	f.MaintelSummary = queryString(c, "maintel_summary")
	f.AuxtelSummary = queryString(c, "auxtel_summary")
	f.ConfluenceURL = queryString(c, "confluence_url")

	var err error
	for _, p := range []struct {
		key string
		dst **int
	}{
		{"min_day_obs", &f.MinDayObs},
		{"max_day_obs", &f.MaxDayObs},
	} {
		if *p.dst, err = queryInt(c, p.key); err != nil {
			return f, err
		}
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{
		{"min_date_added", &f.MinDateAdded},
		{"max_date_added", &f.MaxDateAdded},
		{"min_date_sent", &f.MinDateSent},
		{"max_date_sent", &f.MaxDateSent},
		{"min_date_invalidated", &f.MinDateInvalidated},
		{"max_date_invalidated", &f.MaxDateInvalidated},
	} {
		if *p.dst, err = queryTime(c, p.key); err != nil {
			return f, err
		}
	}
	if f.HasParentID, err = queryBool(c, "has_parent_id"); err != nil {
		return f, err
	}
	if f.HasDateSent, err = queryBool(c, "has_date_sent"); err != nil {
		return f, err
	}
	if f.IsValid, err = query.ParseValidity(c.Query("is_valid")); err != nil {
		return f, err
	}

	if offset, err := queryInt(c, "offset"); err != nil {
		return f, err
	} else if offset != nil {
		f.Offset = *offset
	}
	if limit, err := queryInt(c, "limit"); err != nil {
		return f, err
	} else if limit != nil {
		f.Limit = *limit
	}
	return f, nil
}

func queryList(c *fiber.Ctx, key string) []string {
	raw := c.Context().QueryArgs().PeekMulti(key)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		out[i] = string(v)
	}
	return out
}

func queryString(c *fiber.Ctx, key string) *string {
	if !c.Context().QueryArgs().Has(key) {
		return nil
	}
	v := c.Query(key)
	return &v
}

func queryInt(c *fiber.Ctx, key string) (*int, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New(key + " must be an integer")
	}
	return &v, nil
}

func queryBool(c *fiber.Ctx, key string) (*bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New(key + " must be true or false")
	}
	return &v, nil
}

func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := tai.Parse(raw)
	if err != nil {
		return nil, errors.New(key + " must be an ISO timestamp with no timezone")
	}
	return &v, nil
}

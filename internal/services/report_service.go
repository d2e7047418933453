package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lsst-ts/nightreport/internal/database"
	"github.com/lsst-ts/nightreport/internal/dto"
	"github.com/lsst-ts/nightreport/internal/models"
	"github.com/lsst-ts/nightreport/internal/query"
	"github.com/lsst-ts/nightreport/internal/tai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrReportNotFound = errors.New("report not found")
	// ErrReportSuperseded is returned when editing a version that has already
	// been replaced or deleted. Clients should re-read the head and edit that.
	ErrReportSuperseded = errors.New("report has been superseded or deleted")
	ErrInvalidReport    = errors.New("invalid report")
)

type ReportService struct {
	db     *gorm.DB
	clock  tai.Clock
	siteID string
	log    *slog.Logger
	tracer trace.Tracer
}

func NewReportService(db *gorm.DB, clock tai.Clock, siteID string, log *slog.Logger) *ReportService {
	return &ReportService{
		db:     db,
		clock:  clock,
		siteID: siteID,
		log:    log.With("component", "report_service"),
		tracer: otel.Tracer("github.com/lsst-ts/nightreport/internal/services"),
	}
}

// Add stores a new report with no parent and returns it as stored.
func (s *ReportService) Add(ctx context.Context, req *dto.AddReportRequest) (report *models.NightReport, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Add")
	defer func() { endSpan(span, err) }()

	if err := validateAdd(req); err != nil {
		return nil, err
	}

	r := models.NightReport{
		SiteID:          s.siteID,
		Telescope:       req.Telescope,
		DayObs:          *req.DayObs,
		Summary:         *req.Summary,
		TelescopeStatus: req.TelescopeStatus,
		Weather:         req.Weather,
		MaintelSummary:  req.MaintelSummary,
		AuxtelSummary:   req.AuxtelSummary,
		ConfluenceURL:   *req.ConfluenceURL,
		UserID:          *req.UserID,
		UserAgent:       *req.UserAgent,
		ObserversCrew:   datatypes.JSONSlice[string](req.ObserversCrew),
		DateAdded:       s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		// Reload to pick up is_valid, which the database computes.
		return tx.First(&r, "id = ?", r.ID).Error
	})
	if err != nil {
		return nil, s.storageError("add", err)
	}

	span.SetAttributes(attribute.String("report.id", r.ID.String()))
	s.log.Info("report added", "id", r.ID, "day_obs", r.DayObs, "user_id", r.UserID)
	return &r, nil
}

// Edit replaces the report at id with a new version built from the stored one
// and the non-nil fields of req. The old version is invalidated in the same
// transaction. Only the current head of a chain can be edited: a version that
// is already invalid yields ErrReportSuperseded.
func (s *ReportService) Edit(ctx context.Context, id uuid.UUID, req *dto.EditReportRequest) (report *models.NightReport, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Edit",
		trace.WithAttributes(attribute.String("report.parent_id", id.String())))
	defer func() { endSpan(span, err) }()

	if err := validateEdit(req); err != nil {
		return nil, err
	}

	var child models.NightReport
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent models.NightReport
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&parent, "id = ?", id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReportNotFound
			}
			return err
		}
		if parent.DateInvalidated != nil {
			return ErrReportSuperseded
		}

		now := s.clock.Now()
		parentID := parent.ID
		child = parent
		child.ID = uuid.New()
		child.SiteID = s.siteID
		child.ParentID = &parentID
		child.DateAdded = now
		child.DateInvalidated = nil
		child.ObserversCrew = append(datatypes.JSONSlice[string]{}, parent.ObserversCrew...)
		applyEdit(&child, req)

		if err := tx.Create(&child).Error; err != nil {
			return err
		}
		res := tx.Model(&models.NightReport{}).
			Where("id = ? AND date_invalidated IS NULL", parentID).
			Update("date_invalidated", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrReportSuperseded
		}
		return tx.First(&child, "id = ?", child.ID).Error
	})
	if err != nil {
		if errors.Is(err, ErrReportNotFound) || errors.Is(err, ErrReportSuperseded) || errors.Is(err, ErrInvalidReport) {
			return nil, err
		}
		return nil, s.storageError("edit", err)
	}

	span.SetAttributes(attribute.String("report.id", child.ID.String()))
	s.log.Info("report edited", "id", child.ID, "parent_id", id, "user_id", child.UserID)
	return &child, nil
}

// Delete invalidates the report at id. Deleting an invalid report succeeds
// and keeps its original date_invalidated.
func (s *ReportService) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Delete",
		trace.WithAttributes(attribute.String("report.id", id.String())))
	defer func() { endSpan(span, err) }()

	res := s.db.WithContext(ctx).Model(&models.NightReport{}).
		Where("id = ?", id).
		Update("date_invalidated", gorm.Expr("COALESCE(date_invalidated, ?)", s.clock.Now()))
	if res.Error != nil {
		return s.storageError("delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrReportNotFound
	}
	s.log.Info("report deleted", "id", id)
	return nil
}

// Get returns the report at id whether or not it is valid.
func (s *ReportService) Get(ctx context.Context, id uuid.UUID) (report *models.NightReport, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Get",
		trace.WithAttributes(attribute.String("report.id", id.String())))
	defer func() { endSpan(span, err) }()

	var r models.NightReport
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, s.storageError("get", err)
	}
	return &r, nil
}

// Find returns one page of reports matching f.
func (s *ReportService) Find(ctx context.Context, f query.Filter) (reports []models.NightReport, err error) {
	ctx, span := s.tracer.Start(ctx, "ReportService.Find")
	defer func() { endSpan(span, err) }()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	reports = []models.NightReport{}
	if err := s.db.WithContext(ctx).Scopes(f.Scopes()...).Find(&reports).Error; err != nil {
		return nil, s.storageError("find", err)
	}
	span.SetAttributes(attribute.Int("report.count", len(reports)))
	return reports, nil
}

func (s *ReportService) storageError(op string, err error) error {
	attrs := []any{"op", op, "error", err}
	if code := database.SQLState(err); code != "" {
		attrs = append(attrs, "sqlstate", code)
	}
	s.log.Error("report store failure", attrs...)
	return fmt.Errorf("failed to %s report: %w", op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func applyEdit(r *models.NightReport, req *dto.EditReportRequest) {
	if req.Telescope != nil {
		r.Telescope = req.Telescope
	}
	if req.DayObs != nil {
		r.DayObs = *req.DayObs
	}
	if req.Summary != nil {
		r.Summary = *req.Summary
	}
	if req.TelescopeStatus != nil {
		r.TelescopeStatus = req.TelescopeStatus
	}
	if req.Weather != nil {
		r.Weather = req.Weather
	}
	if req.MaintelSummary != nil {
		r.MaintelSummary = req.MaintelSummary
	}
	if req.AuxtelSummary != nil {
		r.AuxtelSummary = req.AuxtelSummary
	}
	if req.ConfluenceURL != nil {
		r.ConfluenceURL = *req.ConfluenceURL
	}
	if req.UserID != nil {
		r.UserID = *req.UserID
	}
	if req.UserAgent != nil {
		r.UserAgent = *req.UserAgent
	}
	if req.ObserversCrew != nil {
		r.ObserversCrew = append(datatypes.JSONSlice[string]{}, (*req.ObserversCrew)...)
	}
}

func validateAdd(req *dto.AddReportRequest) error {
	var missing []string
	required := []struct {
		name    string
		present bool
	}{
		{"day_obs", req.DayObs != nil},
		{"summary", req.Summary != nil},
		{"weather", req.Weather != nil},
		{"maintel_summary", req.MaintelSummary != nil},
		{"auxtel_summary", req.AuxtelSummary != nil},
		{"confluence_url", req.ConfluenceURL != nil},
		{"user_id", req.UserID != nil},
		{"user_agent", req.UserAgent != nil},
	}
	for _, f := range required {
		if !f.present {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidReport, strings.Join(missing, ", "))
	}
	if req.Telescope != nil && !req.Telescope.Valid() {
		return invalidTelescope(*req.Telescope)
	}
	if err := validateDayObs(*req.DayObs); err != nil {
		return err
	}
	return validateURL(*req.ConfluenceURL)
}

// validateEdit checks only the fields an edit supplies. Values inherited from
// the parent are stored as they are, even if they predate current validation.
func validateEdit(req *dto.EditReportRequest) error {
	if req.Telescope != nil && !req.Telescope.Valid() {
		return invalidTelescope(*req.Telescope)
	}
	if req.DayObs != nil {
		if err := validateDayObs(*req.DayObs); err != nil {
			return err
		}
	}
	if req.ConfluenceURL != nil {
		return validateURL(*req.ConfluenceURL)
	}
	return nil
}

func invalidTelescope(t models.Telescope) error {
	return fmt.Errorf("%w: telescope %q is not one of %v", ErrInvalidReport, t, models.Telescopes)
}

// validateDayObs checks that d is a calendar date written as YYYYMMDD.
func validateDayObs(d int) error {
	if d < 10000101 || d > 99991231 {
		return fmt.Errorf("%w: day_obs %d is not of the form YYYYMMDD", ErrInvalidReport, d)
	}
	if _, err := time.Parse("20060102", strconv.Itoa(d)); err != nil {
		return fmt.Errorf("%w: day_obs %d is not a valid date", ErrInvalidReport, d)
	}
	return nil
}

func validateURL(u string) error {
	if n := utf8.RuneCountInString(u); n > models.URLsLen {
		return fmt.Errorf("%w: confluence_url is %d characters long; the limit is %d", ErrInvalidReport, n, models.URLsLen)
	}
	return nil
}

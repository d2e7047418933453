package dto

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lsst-ts/nightreport/internal/models"
	"github.com/lsst-ts/nightreport/internal/tai"
)

// AddReportRequest is the body of POST /reports. Pointer fields distinguish
// a missing value from an empty one.
type AddReportRequest struct {
	Telescope       *models.Telescope `json:"telescope"`
	DayObs          *int              `json:"day_obs"`
	Summary         *string           `json:"summary"`
	TelescopeStatus *string           `json:"telescope_status"`
	Weather         *string           `json:"weather"`
	MaintelSummary  *string           `json:"maintel_summary"`
	AuxtelSummary   *string           `json:"auxtel_summary"`
	ConfluenceURL   *string           `json:"confluence_url"`
	UserID          *string           `json:"user_id"`
	UserAgent       *string           `json:"user_agent"`
	ObserversCrew   []string          `json:"observers_crew"`
}

// EditReportRequest is the body of PATCH /reports/:id. Only non-nil fields
// replace the parent's values.
type EditReportRequest struct {
	Telescope       *models.Telescope `json:"telescope"`
	DayObs          *int              `json:"day_obs"`
	Summary         *string           `json:"summary"`
	TelescopeStatus *string           `json:"telescope_status"`
	Weather         *string           `json:"weather"`
	MaintelSummary  *string           `json:"maintel_summary"`
	AuxtelSummary   *string           `json:"auxtel_summary"`
	ConfluenceURL   *string           `json:"confluence_url"`
	UserID          *string           `json:"user_id"`
	UserAgent       *string           `json:"user_agent"`
	ObserversCrew   *[]string         `json:"observers_crew"`
}

// ReportResponse renders timestamps as naive TAI ISO strings.
type ReportResponse struct {
	ID              uuid.UUID         `json:"id"`
	SiteID          string            `json:"site_id"`
	Telescope       *models.Telescope `json:"telescope"`
	DayObs          int               `json:"day_obs"`
	Summary         string            `json:"summary"`
	TelescopeStatus *string           `json:"telescope_status"`
	Weather         *string           `json:"weather"`
	MaintelSummary  *string           `json:"maintel_summary"`
	AuxtelSummary   *string           `json:"auxtel_summary"`
	ConfluenceURL   string            `json:"confluence_url"`
	UserID          string            `json:"user_id"`
	UserAgent       string            `json:"user_agent"`
	ObserversCrew   []string          `json:"observers_crew"`
	DateAdded       string            `json:"date_added"`
	DateSent        *string           `json:"date_sent"`
	IsValid         bool              `json:"is_valid"`
	DateInvalidated *string           `json:"date_invalidated"`
	ParentID        *uuid.UUID        `json:"parent_id"`
}

func NewReportResponse(r *models.NightReport) ReportResponse {
	crew := []string(r.ObserversCrew)
	if crew == nil {
		crew = []string{}
	}
	return ReportResponse{
		ID:              r.ID,
		SiteID:          r.SiteID,
		Telescope:       r.Telescope,
		DayObs:          r.DayObs,
		Summary:         r.Summary,
		TelescopeStatus: r.TelescopeStatus,
		Weather:         r.Weather,
		MaintelSummary:  r.MaintelSummary,
		AuxtelSummary:   r.AuxtelSummary,
		ConfluenceURL:   r.ConfluenceURL,
		UserID:          r.UserID,
		UserAgent:       r.UserAgent,
		ObserversCrew:   crew,
		DateAdded:       tai.Format(r.DateAdded),
		DateSent:        formatOptional(r.DateSent),
		IsValid:         r.IsValid,
		DateInvalidated: formatOptional(r.DateInvalidated),
		ParentID:        r.ParentID,
	}
}

func NewReportResponses(reports []models.NightReport) []ReportResponse {
	out := make([]ReportResponse, len(reports))
	for i := range reports {
		out[i] = NewReportResponse(&reports[i])
	}
	return out
}

// ReportRow is one line of the CSV export. Null values become empty cells
// and observers_crew is joined with ";".
type ReportRow struct {
	ID              string `csv:"id"`
	SiteID          string `csv:"site_id"`
	Telescope       string `csv:"telescope"`
	DayObs          int    `csv:"day_obs"`
	Summary         string `csv:"summary"`
	TelescopeStatus string `csv:"telescope_status"`
	Weather         string `csv:"weather"`
	MaintelSummary  string `csv:"maintel_summary"`
	AuxtelSummary   string `csv:"auxtel_summary"`
	ConfluenceURL   string `csv:"confluence_url"`
	UserID          string `csv:"user_id"`
	UserAgent       string `csv:"user_agent"`
	ObserversCrew   string `csv:"observers_crew"`
	DateAdded       string `csv:"date_added"`
	DateSent        string `csv:"date_sent"`
	IsValid         bool   `csv:"is_valid"`
	DateInvalidated string `csv:"date_invalidated"`
	ParentID        string `csv:"parent_id"`
}

func NewReportRows(reports []ReportResponse) []ReportRow {
	rows := make([]ReportRow, len(reports))
	for i, r := range reports {
		row := ReportRow{
			ID:              r.ID.String(),
			SiteID:          r.SiteID,
			DayObs:          r.DayObs,
			Summary:         r.Summary,
			TelescopeStatus: deref(r.TelescopeStatus),
			Weather:         deref(r.Weather),
			MaintelSummary:  deref(r.MaintelSummary),
			AuxtelSummary:   deref(r.AuxtelSummary),
			ConfluenceURL:   r.ConfluenceURL,
			UserID:          r.UserID,
			UserAgent:       r.UserAgent,
			ObserversCrew:   strings.Join(r.ObserversCrew, ";"),
			DateAdded:       r.DateAdded,
			DateSent:        deref(r.DateSent),
			IsValid:         r.IsValid,
			DateInvalidated: deref(r.DateInvalidated),
		}
		if r.Telescope != nil {
			row.Telescope = string(*r.Telescope)
		}
		if r.ParentID != nil {
			row.ParentID = r.ParentID.String()
		}
		rows[i] = row
	}
	return rows
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := tai.Format(*t)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

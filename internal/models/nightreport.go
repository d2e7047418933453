package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	// SiteIDLen is the maximum length of site_id.
	SiteIDLen = 16
	// URLsLen is the maximum length of URL fields.
	URLsLen = 200
)

// Telescope identifies which telescope a report was written for.
// Deprecated 2025-06-16 in favour of the per-telescope summaries.
type Telescope string

const (
	TelescopeAuxTel  Telescope = "AuxTel"
	TelescopeSimonyi Telescope = "Simonyi"
)

var Telescopes = []Telescope{TelescopeAuxTel, TelescopeSimonyi}

func (t Telescope) Valid() bool {
	for _, v := range Telescopes {
		if t == v {
			return true
		}
	}
	return false
}

// GormDBDataType stores telescopes in the postgres enum created by the
// initial migration; other dialects get plain text.
func (Telescope) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "telescope_enum"
	}
	return "text"
}

// NightReport is one version of a night report. Rows are append-only: an edit
// inserts a new row pointing at its parent, and only date_invalidated is ever
// updated in place.
type NightReport struct {
	ID              uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	SiteID          string                      `gorm:"size:16" json:"site_id"`
	Telescope       *Telescope                  `json:"telescope"`
	Summary         string                      `gorm:"type:text;not null" json:"summary"`
	TelescopeStatus *string                     `gorm:"type:text" json:"telescope_status"`
	Weather         *string                     `gorm:"type:text" json:"weather"`
	MaintelSummary  *string                     `gorm:"type:text" json:"maintel_summary"`
	AuxtelSummary   *string                     `gorm:"type:text" json:"auxtel_summary"`
	ConfluenceURL   string                      `gorm:"size:200;not null" json:"confluence_url"`
	DayObs          int                         `gorm:"not null" json:"day_obs"`
	UserID          string                      `gorm:"not null;index:idx_user_id" json:"user_id"`
	UserAgent       string                      `gorm:"not null" json:"user_agent"`
	DateAdded       time.Time                   `gorm:"type:timestamp;not null;index:idx_date_added" json:"date_added"`
	DateSent        *time.Time                  `gorm:"type:timestamp;index:idx_date_sent" json:"date_sent"`
	IsValid         bool                        `gorm:"->;type:boolean GENERATED ALWAYS AS (date_invalidated IS NULL) STORED" json:"is_valid"`
	DateInvalidated *time.Time                  `gorm:"type:timestamp" json:"date_invalidated"`
	ParentID        *uuid.UUID                  `gorm:"type:uuid" json:"parent_id"`
	ObserversCrew   datatypes.JSONSlice[string] `gorm:"not null;default:'[]'" json:"observers_crew"`
}

// BeforeCreate ensures UUID is set before creation
func (r *NightReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.ObserversCrew == nil {
		r.ObserversCrew = datatypes.JSONSlice[string]{}
	}
	return nil
}

// TableName specifies the table name for NightReport
func (NightReport) TableName() string {
	return "nightreport"
}

// ReportFields lists the column names of NightReport that clients may sort on.
// observers_crew is a JSON array and has no useful order.
var ReportFields = []string{
	"id",
	"site_id",
	"telescope",
	"day_obs",
	"summary",
	"telescope_status",
	"weather",
	"maintel_summary",
	"auxtel_summary",
	"confluence_url",
	"user_id",
	"user_agent",
	"date_added",
	"date_sent",
	"is_valid",
	"date_invalidated",
	"parent_id",
}

// OrderByValues returns every accepted order_by value: each field name, and
// the same name prefixed with "-" for descending order.
func OrderByValues() []string {
	values := make([]string, 0, 2*len(ReportFields))
	for _, f := range ReportFields {
		values = append(values, f, "-"+f)
	}
	return values
}

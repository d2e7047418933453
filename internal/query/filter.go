// Package query turns report search parameters into gorm scopes.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lsst-ts/nightreport/internal/models"
	"gorm.io/gorm"
)

// ErrInvalidFilter is returned for a filter the caller must fix.
var ErrInvalidFilter = errors.New("invalid filter")

const DefaultLimit = 50

// Validity selects reports by is_valid.
type Validity int

const (
	ValidOnly Validity = iota
	InvalidOnly
	EitherValidity
)

// ParseValidity accepts "true", "false" and "either"; empty means "true".
func ParseValidity(s string) (Validity, error) {
	switch strings.ToLower(s) {
	case "", "true":
		return ValidOnly, nil
	case "false":
		return InvalidOnly, nil
	case "either":
		return EitherValidity, nil
	}
	return ValidOnly, fmt.Errorf("%w: is_valid must be one of true, false, either; got %q", ErrInvalidFilter, s)
}

func (v Validity) String() string {
	switch v {
	case InvalidOnly:
		return "false"
	case EitherValidity:
		return "either"
	}
	return "true"
}

// Filter holds every supported search predicate. Nil and empty fields do not
// constrain the result; all others are ANDed.
type Filter struct {
	SiteIDs    []string
	UserIDs    []string
	UserAgents []string
	Telescopes []models.Telescope

	Summary         *string
	TelescopeStatus *string
	Weather         *string
	MaintelSummary  *string
	AuxtelSummary   *string
	ConfluenceURL   *string

	// Ranges: Min is inclusive, Max is exclusive.
	MinDayObs          *int
	MaxDayObs          *int
	MinDateAdded       *time.Time
	MaxDateAdded       *time.Time
	MinDateSent        *time.Time
	MaxDateSent        *time.Time
	MinDateInvalidated *time.Time
	MaxDateInvalidated *time.Time

	HasParentID *bool
	HasDateSent *bool

	IsValid Validity

	// OrderBy holds field names, optionally prefixed with "-" for
	// descending order.
	OrderBy []string
	Offset  int
	Limit   int
}

// New returns a filter matching every valid report, ordered by id, first page.
func New() Filter {
	return Filter{IsValid: ValidOnly, Limit: DefaultLimit}
}

// OrderTerm is one resolved ORDER BY column.
type OrderTerm struct {
	Column string
	Desc   bool
}

func (t OrderTerm) String() string {
	// NULL sorts as the largest value in both directions.
	if t.Desc {
		return t.Column + " DESC NULLS FIRST"
	}
	return t.Column + " ASC NULLS LAST"
}

// Order resolves OrderBy into terms, appending ascending id unless the caller
// already sorts on id in either direction.
func (f Filter) Order() ([]OrderTerm, error) {
	allowed := models.OrderByValues()
	var bad []string
	terms := make([]OrderTerm, 0, len(f.OrderBy)+1)
	hasID := false
	for _, item := range f.OrderBy {
		if !slices.Contains(allowed, item) {
			bad = append(bad, item)
			continue
		}
		term := OrderTerm{Column: strings.TrimPrefix(item, "-"), Desc: strings.HasPrefix(item, "-")}
		if term.Column == "id" {
			hasID = true
		}
		terms = append(terms, term)
	}
	if len(bad) > 0 {
		slices.Sort(bad)
		return nil, fmt.Errorf("%w: invalid order_by fields %v; allowed values are %v",
			ErrInvalidFilter, slices.Compact(bad), allowed)
	}
	if !hasID {
		terms = append(terms, OrderTerm{Column: "id"})
	}
	return terms, nil
}

// Validate reports the first problem with f, wrapped in ErrInvalidFilter.
func (f Filter) Validate() error {
	if f.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0; got %d", ErrInvalidFilter, f.Offset)
	}
	if f.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0; got %d", ErrInvalidFilter, f.Limit)
	}
	for _, t := range f.Telescopes {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown telescope %q; allowed values are %v", ErrInvalidFilter, t, models.Telescopes)
		}
	}
	if f.IsValid < ValidOnly || f.IsValid > EitherValidity {
		return fmt.Errorf("%w: bad is_valid value %d", ErrInvalidFilter, f.IsValid)
	}
	_, err := f.Order()
	return err
}

// Scopes returns the where, order, offset and limit scopes for f. Call
// Validate first: an invalid order_by is left out here, not reported.
func (f Filter) Scopes() []func(*gorm.DB) *gorm.DB {
	scopes := []func(*gorm.DB) *gorm.DB{
		InSet("site_id", f.SiteIDs),
		InSet("user_id", f.UserIDs),
		InSet("user_agent", f.UserAgents),
		InSet("telescope", f.Telescopes),
		Contains("summary", f.Summary),
		Contains("telescope_status", f.TelescopeStatus),
		Contains("weather", f.Weather),
		Contains("maintel_summary", f.MaintelSummary),
		Contains("auxtel_summary", f.AuxtelSummary),
		Contains("confluence_url", f.ConfluenceURL),
		Range("day_obs", f.MinDayObs, f.MaxDayObs),
		Range("date_added", f.MinDateAdded, f.MaxDateAdded),
		Range("date_sent", f.MinDateSent, f.MaxDateSent),
		Range("date_invalidated", f.MinDateInvalidated, f.MaxDateInvalidated),
		HasValue("parent_id", f.HasParentID),
		HasValue("date_sent", f.HasDateSent),
		ForValidity(f.IsValid),
	}
	terms, err := f.Order()
	if err == nil {
		scopes = append(scopes, OrderBy(terms))
	}
	return append(scopes, Page(f.Offset, f.Limit))
}

// InSet matches rows whose column equals any of values.
func InSet[T any](column string, values []T) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(values) == 0 {
			return db
		}
		return db.Where(column+" IN ?", values)
	}
}

// Contains matches rows whose column contains substr literally.
func Contains(column string, substr *string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if substr == nil {
			return db
		}
		return db.Where(column+` LIKE ? ESCAPE '\'`, "%"+escapeLike(*substr)+"%")
	}
}

// Range matches lo <= column < hi; either bound may be nil.
func Range[T any](column string, lo, hi *T) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if lo != nil {
			db = db.Where(column+" >= ?", *lo)
		}
		if hi != nil {
			db = db.Where(column+" < ?", *hi)
		}
		return db
	}
}

// HasValue matches rows where column is (true) or is not (false) null.
func HasValue(column string, has *bool) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if has == nil {
			return db
		}
		if *has {
			return db.Where(column + " IS NOT NULL")
		}
		return db.Where(column + " IS NULL")
	}
}

func ForValidity(v Validity) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch v {
		case ValidOnly:
			return db.Where("is_valid = ?", true)
		case InvalidOnly:
			return db.Where("is_valid = ?", false)
		}
		return db
	}
}

// OrderBy applies terms as a single ORDER BY clause. Column names must come
// from Filter.Order, which only admits known fields.
func OrderBy(terms []OrderTerm) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		parts := make([]string, len(terms))
		for i, t := range terms {
			parts[i] = t.String()
		}
		return db.Order(strings.Join(parts, ", "))
	}
}

func Page(offset, limit int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(offset).Limit(limit)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

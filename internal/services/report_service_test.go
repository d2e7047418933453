package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lsst-ts/nightreport/internal/dto"
	"github.com/lsst-ts/nightreport/internal/models"
	"github.com/lsst-ts/nightreport/internal/query"
	"github.com/lsst-ts/nightreport/internal/services"
	"github.com/lsst-ts/nightreport/internal/testutil"
	"gorm.io/gorm"
)

const siteID = "test"

func newService(t *testing.T) (*services.ReportService, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	return services.NewReportService(db, testutil.Clock(), siteID, testutil.Logger()), db
}

func addRequest() *dto.AddReportRequest {
	return &dto.AddReportRequest{
		DayObs:         testutil.Ptr(20240101),
		Summary:        testutil.Ptr("x"),
		Weather:        testutil.Ptr("clear"),
		MaintelSummary: testutil.Ptr("simonyi ok"),
		AuxtelSummary:  testutil.Ptr("auxtel ok"),
		ConfluenceURL:  testutil.Ptr("https://confluence.example/night/1"),
		UserID:         testutil.Ptr("alice"),
		UserAgent:      testutil.Ptr("night-app"),
		ObserversCrew:  []string{"alice", "bob"},
	}
}

func mustAdd(t *testing.T, svc *services.ReportService, mutate func(r *dto.AddReportRequest)) *models.NightReport {
	t.Helper()
	req := addRequest()
	if mutate != nil {
		mutate(req)
	}
	r, err := svc.Add(context.Background(), req)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return r
}

func TestAddEchoesFields(t *testing.T) {
	svc, _ := newService(t)
	req := addRequest()
	req.Telescope = testutil.Ptr(models.TelescopeSimonyi)
	req.TelescopeStatus = testutil.Ptr("parked")

	r, err := svc.Add(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsValid || r.ParentID != nil || r.DateInvalidated != nil {
		t.Fatalf("new report not a valid head: %+v", r)
	}
	if r.ID == uuid.Nil {
		t.Fatal("id not assigned")
	}
	if r.SiteID != siteID {
		t.Errorf("site_id %q", r.SiteID)
	}
	if !r.DateAdded.Equal(testutil.Epoch) {
		t.Errorf("date_added %v, want %v", r.DateAdded, testutil.Epoch)
	}
	if r.DayObs != *req.DayObs || r.Summary != *req.Summary || *r.Weather != *req.Weather ||
		*r.MaintelSummary != *req.MaintelSummary || *r.AuxtelSummary != *req.AuxtelSummary ||
		r.ConfluenceURL != *req.ConfluenceURL || r.UserID != *req.UserID || r.UserAgent != *req.UserAgent ||
		*r.Telescope != *req.Telescope || *r.TelescopeStatus != *req.TelescopeStatus {
		t.Errorf("fields not echoed: %+v", r)
	}
	if strings.Join(r.ObserversCrew, ",") != "alice,bob" {
		t.Errorf("observers_crew %v", r.ObserversCrew)
	}

	got, err := svc.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != r.Summary || !got.IsValid {
		t.Errorf("Get returned %+v", got)
	}
}

func TestAddDefaultsObserversCrew(t *testing.T) {
	svc, _ := newService(t)
	r := mustAdd(t, svc, func(r *dto.AddReportRequest) { r.ObserversCrew = nil })
	if r.ObserversCrew == nil || len(r.ObserversCrew) != 0 {
		t.Fatalf("observers_crew %#v, want empty list", r.ObserversCrew)
	}
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *dto.AddReportRequest)
	}{
		{"missing summary", func(r *dto.AddReportRequest) { r.Summary = nil }},
		{"missing day_obs", func(r *dto.AddReportRequest) { r.DayObs = nil }},
		{"missing user_agent", func(r *dto.AddReportRequest) { r.UserAgent = nil }},
		{"bad day_obs", func(r *dto.AddReportRequest) { r.DayObs = testutil.Ptr(20240230) }},
		{"short day_obs", func(r *dto.AddReportRequest) { r.DayObs = testutil.Ptr(2024) }},
		{"bad telescope", func(r *dto.AddReportRequest) { r.Telescope = testutil.Ptr(models.Telescope("Hale")) }},
		{"long url", func(r *dto.AddReportRequest) { r.ConfluenceURL = testutil.Ptr(strings.Repeat("u", models.URLsLen+1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db := newService(t)
			req := addRequest()
			tt.mutate(req)
			if _, err := svc.Add(context.Background(), req); !errors.Is(err, services.ErrInvalidReport) {
				t.Fatalf("expected ErrInvalidReport, got %v", err)
			}
			var n int64
			db.Model(&models.NightReport{}).Count(&n)
			if n != 0 {
				t.Fatalf("%d rows written", n)
			}
		})
	}
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a := mustAdd(t, svc, nil)

	b, err := svc.Edit(ctx, a.ID, &dto.EditReportRequest{Summary: testutil.Ptr("y")})
	if err != nil {
		t.Fatal(err)
	}
	if b.ParentID == nil || *b.ParentID != a.ID {
		t.Fatalf("parent_id %v, want %v", b.ParentID, a.ID)
	}
	if b.ID == a.ID {
		t.Fatal("edit reused the parent id")
	}
	if b.Summary != "y" || b.DayObs != 20240101 || *b.Weather != *a.Weather || b.UserID != a.UserID ||
		b.ConfluenceURL != a.ConfluenceURL || strings.Join(b.ObserversCrew, ",") != "alice,bob" {
		t.Fatalf("unexpected child %+v", b)
	}
	if !b.IsValid || b.DateInvalidated != nil {
		t.Fatal("child is not the head")
	}
	if !b.DateAdded.After(a.DateAdded) {
		t.Errorf("child date_added %v not after parent %v", b.DateAdded, a.DateAdded)
	}

	oldA, err := svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if oldA.IsValid || oldA.DateInvalidated == nil {
		t.Fatalf("parent still valid: %+v", oldA)
	}
	if !oldA.DateInvalidated.Equal(b.DateAdded) {
		t.Errorf("parent invalidated at %v, child added at %v", oldA.DateInvalidated, b.DateAdded)
	}
	if oldA.Summary != "x" {
		t.Errorf("parent content changed to %q", oldA.Summary)
	}
}

func TestEditOverridesSiteIDAndCrew(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	first := services.NewReportService(db, testutil.Clock(), "base", testutil.Logger())
	a, err := first.Add(ctx, addRequest())
	if err != nil {
		t.Fatal(err)
	}

	second := services.NewReportService(db, testutil.Clock(), "summit", testutil.Logger())
	crew := []string{}
	b, err := second.Edit(ctx, a.ID, &dto.EditReportRequest{ObserversCrew: &crew, Telescope: testutil.Ptr(models.TelescopeAuxTel)})
	if err != nil {
		t.Fatal(err)
	}
	if b.SiteID != "summit" {
		t.Errorf("site_id %q", b.SiteID)
	}
	if len(b.ObserversCrew) != 0 {
		t.Errorf("observers_crew %v", b.ObserversCrew)
	}
	if b.Telescope == nil || *b.Telescope != models.TelescopeAuxTel {
		t.Errorf("telescope %v", b.Telescope)
	}
}

func TestEditErrors(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)
	a := mustAdd(t, svc, nil)

	if _, err := svc.Edit(ctx, uuid.New(), &dto.EditReportRequest{}); !errors.Is(err, services.ErrReportNotFound) {
		t.Fatalf("unknown id: got %v", err)
	}
	if _, err := svc.Edit(ctx, a.ID, &dto.EditReportRequest{DayObs: testutil.Ptr(20241399)}); !errors.Is(err, services.ErrInvalidReport) {
		t.Fatalf("bad day_obs: got %v", err)
	}
	if got, _ := svc.Get(ctx, a.ID); !got.IsValid {
		t.Fatal("failed edit invalidated the parent")
	}

	if _, err := svc.Edit(ctx, a.ID, &dto.EditReportRequest{Summary: testutil.Ptr("y")}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Edit(ctx, a.ID, &dto.EditReportRequest{Summary: testutil.Ptr("z")}); !errors.Is(err, services.ErrReportSuperseded) {
		t.Fatalf("edit of superseded version: got %v", err)
	}

	var n int64
	db.Model(&models.NightReport{}).Count(&n)
	if n != 2 {
		t.Fatalf("%d rows, want 2", n)
	}
}

func TestEditKeepsInheritedLegacyValues(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)
	a := mustAdd(t, svc, nil)
	if err := db.Model(&models.NightReport{}).Where("id = ?", a.ID).Update("day_obs", 20241399).Error; err != nil {
		t.Fatal(err)
	}

	b, err := svc.Edit(ctx, a.ID, &dto.EditReportRequest{Summary: testutil.Ptr("y")})
	if err != nil {
		t.Fatalf("edit not touching day_obs: %v", err)
	}
	if b.DayObs != 20241399 || b.Summary != "y" {
		t.Fatalf("day_obs=%d summary=%q", b.DayObs, b.Summary)
	}

	if _, err := svc.Edit(ctx, b.ID, &dto.EditReportRequest{DayObs: testutil.Ptr(20241399)}); !errors.Is(err, services.ErrInvalidReport) {
		t.Fatalf("supplied bad day_obs: got %v", err)
	}
}

func TestConcurrentEditsHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)
	a := mustAdd(t, svc, nil)

	const editors = 4
	errs := make([]error, editors)
	var wg sync.WaitGroup
	for i := 0; i < editors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Edit(ctx, a.ID, &dto.EditReportRequest{Summary: testutil.Ptr(fmt.Sprintf("edit %d", i))})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, services.ErrReportSuperseded):
			t.Errorf("unexpected error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d edits succeeded, want 1", wins)
	}

	var children int64
	db.Model(&models.NightReport{}).Where("parent_id = ?", a.ID).Count(&children)
	if children != 1 {
		t.Fatalf("%d children, want 1", children)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a := mustAdd(t, svc, nil)

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	first, err := svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.IsValid || first.DateInvalidated == nil {
		t.Fatalf("not invalidated: %+v", first)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	second, err := svc.Get(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.DateInvalidated.Equal(*first.DateInvalidated) {
		t.Fatalf("date_invalidated moved from %v to %v", first.DateInvalidated, second.DateInvalidated)
	}
}

func TestDeleteUnknown(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)
	mustAdd(t, svc, nil)

	id := uuid.New()
	for i := 0; i < 2; i++ {
		if err := svc.Delete(ctx, id); !errors.Is(err, services.ErrReportNotFound) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	var valid int64
	db.Model(&models.NightReport{}).Where("is_valid = ?", true).Count(&valid)
	if valid != 1 {
		t.Fatalf("%d valid rows, want 1", valid)
	}
	if _, err := svc.Get(ctx, id); !errors.Is(err, services.ErrReportNotFound) {
		t.Fatalf("Get unknown: %v", err)
	}
}

func TestFindValidity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a := mustAdd(t, svc, nil)
	mustAdd(t, svc, nil)
	deleted := mustAdd(t, svc, nil)
	if _, err := svc.Edit(ctx, a.ID, &dto.EditReportRequest{Summary: testutil.Ptr("y")}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, deleted.ID); err != nil {
		t.Fatal(err)
	}

	valid, err := svc.Find(ctx, query.New())
	if err != nil {
		t.Fatal(err)
	}
	if len(valid) != 2 {
		t.Fatalf("default query returned %d reports, want 2", len(valid))
	}
	for _, r := range valid {
		if !r.IsValid {
			t.Errorf("default query returned invalid report %s", r.ID)
		}
	}

	f := query.New()
	f.IsValid = query.EitherValidity
	all, err := svc.Find(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("either returned %d reports, want 4", len(all))
	}
}

func TestFindRejectsBadFilter(t *testing.T) {
	svc, _ := newService(t)
	f := query.New()
	f.OrderBy = []string{"color"}
	if _, err := svc.Find(context.Background(), f); !errors.Is(err, query.ErrInvalidFilter) {
		t.Fatalf("got %v", err)
	}
}

func TestFindDegenerateRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for _, d := range []int{20240101, 20240102, 20240103} {
		mustAdd(t, svc, func(r *dto.AddReportRequest) { r.DayObs = testutil.Ptr(d) })
	}
	for _, x := range []int{20240101, 20240102, 20240103, 20250101} {
		f := query.New()
		f.MinDayObs = testutil.Ptr(x)
		f.MaxDayObs = testutil.Ptr(x)
		got, err := svc.Find(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("[%d, %d) returned %d reports", x, x, len(got))
		}
	}
}

func TestFindFilters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	mustAdd(t, svc, func(r *dto.AddReportRequest) {
		r.UserID = testutil.Ptr("alice")
		r.Weather = testutil.Ptr("cloudy, high humidity")
		r.Telescope = testutil.Ptr(models.TelescopeAuxTel)
	})
	mustAdd(t, svc, func(r *dto.AddReportRequest) {
		r.UserID = testutil.Ptr("bob")
		r.UserAgent = testutil.Ptr("cli")
	})
	mustAdd(t, svc, func(r *dto.AddReportRequest) {
		r.UserID = testutil.Ptr("carol")
		r.Telescope = testutil.Ptr(models.TelescopeSimonyi)
	})

	tests := []struct {
		name  string
		set   func(f *query.Filter)
		users []string
	}{
		{"user_ids", func(f *query.Filter) { f.UserIDs = []string{"alice", "carol"} }, []string{"alice", "carol"}},
		{"user_agents", func(f *query.Filter) { f.UserAgents = []string{"cli"} }, []string{"bob"}},
		{"site_ids", func(f *query.Filter) { f.SiteIDs = []string{"elsewhere"} }, nil},
		{"telescopes", func(f *query.Filter) { f.Telescopes = []models.Telescope{models.TelescopeSimonyi} }, []string{"carol"}},
		{"weather contains", func(f *query.Filter) { f.Weather = testutil.Ptr("humid") }, []string{"alice"}},
		{"min date_added", func(f *query.Filter) { f.MinDateAdded = testutil.Ptr(testutil.Epoch.Add(time.Second)) }, []string{"bob", "carol"}},
		{"max date_added", func(f *query.Filter) { f.MaxDateAdded = testutil.Ptr(testutil.Epoch.Add(time.Second)) }, []string{"alice"}},
		{"has_date_sent", func(f *query.Filter) { f.HasDateSent = testutil.Ptr(true) }, nil},
		{"has_parent_id false", func(f *query.Filter) { f.HasParentID = testutil.Ptr(false) }, []string{"alice", "bob", "carol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := query.New()
			f.OrderBy = []string{"user_id"}
			tt.set(&f)
			got, err := svc.Find(ctx, f)
			if err != nil {
				t.Fatal(err)
			}
			users := make([]string, len(got))
			for i, r := range got {
				users[i] = r.UserID
			}
			if strings.Join(users, ",") != strings.Join(tt.users, ",") {
				t.Fatalf("got %v, want %v", users, tt.users)
			}
		})
	}
}

func TestFindPagination(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	for i := 0; i < 10; i++ {
		mustAdd(t, svc, func(r *dto.AddReportRequest) { r.DayObs = testutil.Ptr(20240101 + i%3) })
	}

	all := query.New()
	all.OrderBy = []string{"-day_obs"}
	all.Limit = 100
	want, err := svc.Find(ctx, all)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != 10 {
		t.Fatalf("got %d reports", len(want))
	}

	var pages []models.NightReport
	for offset := 0; ; offset += 3 {
		f := query.New()
		f.OrderBy = []string{"-day_obs"}
		f.Limit = 3
		f.Offset = offset
		page, err := svc.Find(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		pages = append(pages, page...)
	}
	if len(pages) != len(want) {
		t.Fatalf("pages hold %d reports, want %d", len(pages), len(want))
	}
	for i := range want {
		if pages[i].ID != want[i].ID {
			t.Fatalf("position %d: got %s, want %s", i, pages[i].ID, want[i].ID)
		}
	}
}

func TestFindOrdering(t *testing.T) {
	ctx := context.Background()
	svc, db := newService(t)

	telescopes := []*models.Telescope{nil, testutil.Ptr(models.TelescopeAuxTel), testutil.Ptr(models.TelescopeSimonyi)}
	var ids []uuid.UUID
	for i := 0; i < 9; i++ {
		r := mustAdd(t, svc, func(r *dto.AddReportRequest) {
			r.DayObs = testutil.Ptr(20240101 + i%4)
			r.Summary = testutil.Ptr(fmt.Sprintf("summary %d", i%3))
			r.UserID = testutil.Ptr([]string{"alice", "bob"}[i%2])
			r.Telescope = telescopes[i%3]
			if i%2 == 0 {
				r.TelescopeStatus = testutil.Ptr(fmt.Sprintf("status %d", i%5))
			}
		})
		ids = append(ids, r.ID)
	}
	if _, err := svc.Edit(ctx, ids[0], &dto.EditReportRequest{Weather: testutil.Ptr("windy")}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}
	sent := testutil.Epoch.Add(time.Hour)
	if err := db.Model(&models.NightReport{}).Where("id IN ?", ids[2:5]).Update("date_sent", sent).Error; err != nil {
		t.Fatal(err)
	}

	for _, field := range models.ReportFields {
		for _, desc := range []bool{false, true} {
			item := field
			if desc {
				item = "-" + field
			}
			t.Run(item, func(t *testing.T) {
				f := query.New()
				f.IsValid = query.EitherValidity
				f.OrderBy = []string{item}
				got, err := svc.Find(ctx, f)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != 10 {
					t.Fatalf("got %d reports", len(got))
				}
				for i := 1; i < len(got); i++ {
					c := compareField(&got[i-1], &got[i], field)
					if desc {
						c = -c
					}
					if field == "id" {
						if c >= 0 {
							t.Fatalf("ids out of order at %d", i)
						}
						continue
					}
					if c > 0 || (c == 0 && got[i-1].ID.String() >= got[i].ID.String()) {
						t.Fatalf("out of order at %d: %+v then %+v", i, got[i-1], got[i])
					}
				}
			})
		}
	}
}

// compareField orders two reports by one field, treating null as larger than
// any value.
func compareField(a, b *models.NightReport, field string) int {
	switch field {
	case "id":
		return strings.Compare(a.ID.String(), b.ID.String())
	case "site_id":
		return strings.Compare(a.SiteID, b.SiteID)
	case "telescope":
		return compareNullable(a.Telescope, b.Telescope, func(x, y models.Telescope) int { return strings.Compare(string(x), string(y)) })
	case "day_obs":
		return a.DayObs - b.DayObs
	case "summary":
		return strings.Compare(a.Summary, b.Summary)
	case "telescope_status":
		return compareNullable(a.TelescopeStatus, b.TelescopeStatus, strings.Compare)
	case "weather":
		return compareNullable(a.Weather, b.Weather, strings.Compare)
	case "maintel_summary":
		return compareNullable(a.MaintelSummary, b.MaintelSummary, strings.Compare)
	case "auxtel_summary":
		return compareNullable(a.AuxtelSummary, b.AuxtelSummary, strings.Compare)
	case "confluence_url":
		return strings.Compare(a.ConfluenceURL, b.ConfluenceURL)
	case "user_id":
		return strings.Compare(a.UserID, b.UserID)
	case "user_agent":
		return strings.Compare(a.UserAgent, b.UserAgent)
	case "date_added":
		return a.DateAdded.Compare(b.DateAdded)
	case "date_sent":
		return compareNullable(a.DateSent, b.DateSent, time.Time.Compare)
	case "is_valid":
		return boolInt(a.IsValid) - boolInt(b.IsValid)
	case "date_invalidated":
		return compareNullable(a.DateInvalidated, b.DateInvalidated, time.Time.Compare)
	case "parent_id":
		return compareNullable(a.ParentID, b.ParentID, func(x, y uuid.UUID) int { return strings.Compare(x.String(), y.String()) })
	}
	panic("unknown field " + field)
}

func compareNullable[T any](a, b *T, cmp func(T, T) int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp(*a, *b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lsst-ts/nightreport/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ReportTable is the name of the single table this service owns.
const ReportTable = "nightreport"

// Migration is one reversible schema step. Up and Down must be idempotent and
// must tolerate a database that has no report table.
type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB, log *slog.Logger) error
	Down    func(tx *gorm.DB, log *slog.Logger) error
}

// SchemaVersion records an applied migration.
type SchemaVersion struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:100;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaVersion) TableName() string {
	return "schema_versions"
}

// MigrationStatus pairs a known migration with whether it has been applied.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrations is the list of all migrations in order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create_nightreport_table",
		Up:      createReportTableUp,
		Down:    createReportTableDown,
	},
	{
		Version: 2,
		Name:    "add_observers_crew",
		Up:      addObserversCrewUp,
		Down:    addObserversCrewDown,
	},
	{
		Version: 3,
		Name:    "extend_confluence_url_length",
		Up:      extendConfluenceURLUp,
		Down:    extendConfluenceURLDown,
	},
	{
		Version: 4,
		Name:    "unify_telescope_reports",
		Up:      unifyTelescopeReportsUp,
		Down:    unifyTelescopeReportsDown,
	},
}

// LatestVersion is the schema version after every migration has run.
func LatestVersion() int {
	return Migrations[len(Migrations)-1].Version
}

// Migrate applies every pending migration, each in its own transaction, and
// returns how many ran.
func Migrate(ctx context.Context, db *gorm.DB, log *slog.Logger) (int, error) {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		log.Info("running migration", "version", m.Version, "name", m.Name)
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx, log); err != nil {
				return err
			}
			return tx.Create(&SchemaVersion{
				Version:   m.Version,
				Name:      m.Name,
				AppliedAt: time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return applied, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		applied++
	}
	return applied, nil
}

// Rollback reverts applied migrations newer than target, newest first, and
// returns how many were reverted. Rollback(ctx, db, log, 0) removes the schema.
func Rollback(ctx context.Context, db *gorm.DB, log *slog.Logger, target int) (int, error) {
	if target < 0 {
		return 0, fmt.Errorf("invalid target version %d", target)
	}
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for i := len(Migrations) - 1; i >= 0; i-- {
		m := Migrations[i]
		if m.Version <= target || m.Version > current {
			continue
		}
		log.Info("reverting migration", "version", m.Version, "name", m.Name)
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := m.Down(tx, log); err != nil {
				return err
			}
			return tx.Where("version = ?", m.Version).Delete(&SchemaVersion{}).Error
		})
		if err != nil {
			return reverted, fmt.Errorf("revert of migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		reverted++
	}
	return reverted, nil
}

// CurrentVersion returns the highest applied migration version, 0 if none.
func CurrentVersion(ctx context.Context, db *gorm.DB) (int, error) {
	if err := db.WithContext(ctx).AutoMigrate(&SchemaVersion{}); err != nil {
		return 0, fmt.Errorf("failed to create schema_versions table: %w", err)
	}
	var current int
	if err := db.WithContext(ctx).Model(&SchemaVersion{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error; err != nil {
		return 0, fmt.Errorf("failed to get current schema version: %w", err)
	}
	return current, nil
}

func Status(ctx context.Context, db *gorm.DB) ([]MigrationStatus, error) {
	if _, err := CurrentVersion(ctx, db); err != nil {
		return nil, err
	}
	var rows []SchemaVersion
	if err := db.WithContext(ctx).Order("version").Find(&rows).Error; err != nil {
		return nil, err
	}
	applied := make(map[int]time.Time, len(rows))
	for _, r := range rows {
		applied[r.Version] = r.AppliedAt
	}

	out := make([]MigrationStatus, 0, len(Migrations))
	for _, m := range Migrations {
		s := MigrationStatus{Version: m.Version, Name: m.Name}
		if at, ok := applied[m.Version]; ok {
			s.Applied = true
			s.AppliedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

// Table snapshots. Each migration works against the shape of the table at its
// own point in history, never against models.NightReport.

type nightReportV1 struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey"`
	SiteID          string            `gorm:"size:16"`
	Telescope       *models.Telescope
	Summary         string            `gorm:"type:text;not null"`
	TelescopeStatus *string           `gorm:"type:text"`
	ConfluenceURL   *string           `gorm:"size:50"`
	DayObs          int               `gorm:"not null"`
	UserID          string            `gorm:"not null;index:idx_user_id"`
	UserAgent       string            `gorm:"not null"`
	DateAdded       time.Time         `gorm:"type:timestamp;not null;index:idx_date_added"`
	DateSent        *time.Time        `gorm:"type:timestamp;index:idx_date_sent"`
	IsValid         bool              `gorm:"->;type:boolean GENERATED ALWAYS AS (date_invalidated IS NULL) STORED"`
	DateInvalidated *time.Time        `gorm:"type:timestamp"`
	ParentID        *uuid.UUID        `gorm:"type:uuid"`
	Parent          *nightReportV1    `gorm:"foreignKey:ParentID;references:ID"`
}

func (nightReportV1) TableName() string { return ReportTable }

type observersCrewColumn struct {
	ObserversCrew datatypes.JSONSlice[string] `gorm:"not null;default:'[]'"`
}

func (observersCrewColumn) TableName() string { return ReportTable }

type telescopeSummaryColumns struct {
	Weather        *string `gorm:"type:text"`
	MaintelSummary *string `gorm:"type:text"`
	AuxtelSummary  *string `gorm:"type:text"`
}

func (telescopeSummaryColumns) TableName() string { return ReportTable }

func isPostgres(tx *gorm.DB) bool {
	return tx.Dialector.Name() == "postgres"
}

// setNotNull changes a column's nullability. SQLite cannot alter constraints
// in place, so there the relaxed form created by the first migration stays.
func setNotNull(tx *gorm.DB, column string, notNull bool) error {
	if !isPostgres(tx) {
		return nil
	}
	action := "DROP NOT NULL"
	if notNull {
		action = "SET NOT NULL"
	}
	return tx.Exec(fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", ReportTable, column, action)).Error
}

func dropColumnIfExists(tx *gorm.DB, log *slog.Logger, column string) error {
	if !tx.Migrator().HasColumn(ReportTable, column) {
		return nil
	}
	log.Info("drop column", "column", column)
	// Plain DDL: the sqlite migrator rebuilds the table to drop a column,
	// which fails on the generated is_valid column.
	return tx.Exec(fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", ReportTable, column)).Error
}

func hasReportTable(tx *gorm.DB, log *slog.Logger) bool {
	if tx.Migrator().HasTable(ReportTable) {
		return true
	}
	log.Info("no report table; nothing to do", "table", ReportTable)
	return false
}

func createReportTableUp(tx *gorm.DB, log *slog.Logger) error {
	if tx.Migrator().HasTable(ReportTable) {
		log.Info("report table already exists", "table", ReportTable)
		return nil
	}
	if isPostgres(tx) {
		if err := tx.Exec(`DO $$ BEGIN
			CREATE TYPE telescope_enum AS ENUM ('AuxTel', 'Simonyi');
		EXCEPTION WHEN duplicate_object THEN NULL;
		END $$;`).Error; err != nil {
			return err
		}
	}
	log.Info("create table", "table", ReportTable)
	if err := tx.Migrator().CreateTable(&nightReportV1{}); err != nil {
		return err
	}
	for _, column := range []string{"telescope", "telescope_status"} {
		if err := setNotNull(tx, column, true); err != nil {
			return err
		}
	}
	return nil
}

func createReportTableDown(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) {
		return nil
	}
	log.Info("drop table", "table", ReportTable)
	if err := tx.Migrator().DropTable(ReportTable); err != nil {
		return err
	}
	if isPostgres(tx) {
		return tx.Exec("DROP TYPE IF EXISTS telescope_enum").Error
	}
	return nil
}

func addObserversCrewUp(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) {
		return nil
	}
	if tx.Migrator().HasColumn(ReportTable, "observers_crew") {
		return nil
	}
	log.Info("add column", "column", "observers_crew")
	return tx.Migrator().AddColumn(&observersCrewColumn{}, "ObserversCrew")
}

func addObserversCrewDown(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) {
		return nil
	}
	return dropColumnIfExists(tx, log, "observers_crew")
}

func extendConfluenceURLUp(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) || !isPostgres(tx) {
		return nil
	}
	log.Info("extend column", "column", "confluence_url", "length", models.URLsLen)
	return tx.Exec(fmt.Sprintf(
		"ALTER TABLE %s ALTER COLUMN confluence_url TYPE varchar(%d), ALTER COLUMN confluence_url SET NOT NULL",
		ReportTable, models.URLsLen,
	)).Error
}

func extendConfluenceURLDown(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) || !isPostgres(tx) {
		return nil
	}
	log.Info("shrink column", "column", "confluence_url", "length", 50)
	return tx.Exec(fmt.Sprintf(
		"ALTER TABLE %s ALTER COLUMN confluence_url TYPE varchar(50), ALTER COLUMN confluence_url DROP NOT NULL",
		ReportTable,
	)).Error
}

func unifyTelescopeReportsUp(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) {
		return nil
	}
	for _, field := range []string{"Weather", "MaintelSummary", "AuxtelSummary"} {
		if tx.Migrator().HasColumn(&telescopeSummaryColumns{}, field) {
			continue
		}
		log.Info("add column", "field", field)
		if err := tx.Migrator().AddColumn(&telescopeSummaryColumns{}, field); err != nil {
			return err
		}
	}
	for _, column := range []string{"telescope", "telescope_status"} {
		log.Info("make column nullable", "column", column)
		if err := setNotNull(tx, column, false); err != nil {
			return err
		}
	}
	return nil
}

func unifyTelescopeReportsDown(tx *gorm.DB, log *slog.Logger) error {
	if !hasReportTable(tx, log) {
		return nil
	}
	for _, column := range []string{"weather", "maintel_summary", "auxtel_summary"} {
		if err := dropColumnIfExists(tx, log, column); err != nil {
			return err
		}
	}
	for _, column := range []string{"telescope", "telescope_status"} {
		log.Info("make column not nullable", "column", column)
		if err := setNotNull(tx, column, true); err != nil {
			return err
		}
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tudobem/internal/models"
)

// DefaultRawTimeout bounds statements executed through the raw escape hatch
const DefaultRawTimeout = 10 * time.Second

// ReportColumns is the column list every report read returns
const ReportColumns = `id, exercise_id, problem_type, user_comment, user_answer, reporter, status,
	processed_by, admin_comment, ai_response, created_at, processed_at`

// ReportRepository stores problem reports
type ReportRepository struct {
	db         *sqlx.DB
	rawTimeout time.Duration
	logger     *zap.Logger
}

func NewReportRepository(db *sqlx.DB, rawTimeout time.Duration, logger *zap.Logger) *ReportRepository {
	if rawTimeout <= 0 {
		rawTimeout = DefaultRawTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportRepository{db: db, rawTimeout: rawTimeout, logger: logger}
}

// Create inserts a new report. ID, status and created_at must be set.
func (r *ReportRepository) Create(ctx context.Context, report *models.ProblemReport) error {
	query := r.db.Rebind(`INSERT INTO problem_reports
		(id, exercise_id, problem_type, user_comment, user_answer, reporter, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		report.ID, report.ExerciseID, report.ProblemType, report.UserComment,
		report.UserAnswer, report.Reporter, report.Status, report.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ProblemReport, error) {
	var report models.ProblemReport
	query := r.db.Rebind(`SELECT ` + ReportColumns + ` FROM problem_reports WHERE id = ?`)
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return &report, nil
}

// List returns reports newest first, optionally filtered by status
func (r *ReportRepository) List(ctx context.Context, status models.ReportStatus) ([]*models.ProblemReport, error) {
	reports := []*models.ProblemReport{}
	var err error
	if status == "" {
		err = r.db.SelectContext(ctx, &reports,
			`SELECT `+ReportColumns+` FROM problem_reports ORDER BY created_at DESC`)
	} else {
		err = r.db.SelectContext(ctx, &reports,
			r.db.Rebind(`SELECT `+ReportColumns+` FROM problem_reports WHERE status = ? ORDER BY created_at DESC`),
			status)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return reports, nil
}

// UpdateStatus is the structured status write. Only a pending report is
// updated; a report that was already decided yields ErrAlreadyDecided.
// It returns the updated row.
func (r *ReportRepository) UpdateStatus(ctx context.Context, id string, upd models.StatusUpdate) (*models.ProblemReport, error) {
	query := r.db.Rebind(`UPDATE problem_reports
		SET status = ?, processed_by = ?, admin_comment = ?, ai_response = ?, processed_at = ?
		WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query,
		upd.Status, upd.ProcessedBy, upd.AdminComment, upd.AIResponse, upd.ProcessedAt.UTC(), id, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to update report status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyDecided
	}
	return r.GetByID(ctx, id)
}

// QueryRaw runs a hand-built statement that returns one row and hands the
// row back as a column map. Execution is bounded by the raw timeout.
func (r *ReportRepository) QueryRaw(ctx context.Context, query string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, r.rawTimeout)
	defer cancel()

	row := make(map[string]interface{})
	if err := r.db.QueryRowxContext(ctx, query).MapScan(row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("raw query failed: %w", err)
	}
	return row, nil
}

// ReportFromRow rebuilds a report from a MapScan result. Drivers disagree
// on column types (text may come back as []byte, timestamps as strings), so
// every field is read leniently.
func ReportFromRow(row map[string]interface{}) *models.ProblemReport {
	report := &models.ProblemReport{
		ID:          asString(row["id"]),
		ExerciseID:  asString(row["exercise_id"]),
		ProblemType: models.ProblemType(asString(row["problem_type"])),
		UserComment: asString(row["user_comment"]),
		UserAnswer:  asString(row["user_answer"]),
		Reporter:    asString(row["reporter"]),
		Status:      models.ReportStatus(asString(row["status"])),
	}
	if row["processed_by"] != nil {
		s := asString(row["processed_by"])
		report.ProcessedBy = &s
	}
	if row["admin_comment"] != nil {
		s := asString(row["admin_comment"])
		report.AdminComment = &s
	}
	if row["ai_response"] != nil {
		s := asString(row["ai_response"])
		report.AIResponse = &s
	}
	if t, ok := asTime(row["created_at"]); ok {
		report.CreatedAt = t
	}
	if t, ok := asTime(row["processed_at"]); ok {
		report.ProcessedAt = &t
	}
	return report
}

func asString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// RawTimeLayout is how timestamps are written into hand-built statements
const RawTimeLayout = "2006-01-02 15:04:05.999999-07:00"

var timeLayouts = []string{
	RawTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func asTime(val interface{}) (time.Time, bool) {
	switch v := val.(type) {
	case time.Time:
		return v, true
	case string:
		return parseTime(v)
	case []byte:
		return parseTime(string(v))
	}
	return time.Time{}, false
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tudobem/internal/metrics"
	"tudobem/internal/models"
	"tudobem/internal/notify"
	"tudobem/internal/repository"
	"tudobem/internal/sqlgate"
)

// DefaultSettleDelay separates an exercise mutation from the status write
const DefaultSettleDelay = 100 * time.Millisecond

// Status write paths
const (
	PathPrimary   = "primary"
	PathSecondary = "secondary"
)

// ReportStore is what the committer needs from the report store
type ReportStore interface {
	GetByID(ctx context.Context, id string) (*models.ProblemReport, error)
	UpdateStatus(ctx context.Context, id string, upd models.StatusUpdate) (*models.ProblemReport, error)
	QueryRaw(ctx context.Context, query string) (map[string]interface{}, error)
}

// MutationExecutor applies a validated correction to the exercises table
type MutationExecutor interface {
	ExecMutation(ctx context.Context, statement string) (int64, error)
}

// CommitError is returned when neither status path could record the
// decision. Err is the secondary path's error.
type CommitError struct {
	ReportID          string
	CorrectionApplied bool
	Primary           error
	Err               error
}

func (e *CommitError) Error() string {
	if e.CorrectionApplied {
		return fmt.Sprintf("correction applied but report %s status was not updated: %v", e.ReportID, e.Err)
	}
	return fmt.Sprintf("report %s status was not updated: %v", e.ReportID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// CommitterConfig tunes the committer
type CommitterConfig struct {
	SettleDelay time.Duration
}

// Committer records admin decisions on reports. Accepting with a correction
// applies the correction first and only then writes the status, through a
// structured path with a raw fallback. The two writes are not transactional.
type Committer struct {
	reports     ReportStore
	exercises   MutationExecutor
	notifier    notify.Notifier
	metrics     *metrics.Metrics
	settleDelay time.Duration
	now         func() time.Time
	sleep       func(time.Duration)
	logger      *zap.Logger
}

func NewCommitter(reports ReportStore, exercises MutationExecutor, notifier notify.Notifier, m *metrics.Metrics, cfg CommitterConfig, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	return &Committer{
		reports:     reports,
		exercises:   exercises,
		notifier:    notifier,
		metrics:     m,
		settleDelay: cfg.SettleDelay,
		now:         time.Now,
		sleep:       time.Sleep,
		logger:      logger,
	}
}

// ApplyCorrectionAndAccept validates sqlCorrection, applies it and marks the
// report accepted. A rejected statement touches nothing; a failed mutation
// leaves the report pending.
func (c *Committer) ApplyCorrectionAndAccept(ctx context.Context, reportID, sqlCorrection, processedBy, adminComment string, verdict *models.Verdict) (*models.ProblemReport, error) {
	stmt, err := sqlgate.Validate(sqlCorrection)
	if err != nil {
		c.rejected(reportID, err)
		return nil, err
	}

	report, err := c.pendingReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := sqlgate.CheckTarget(stmt, report.ExerciseID); err != nil {
		c.rejected(reportID, err)
		return nil, err
	}

	_, err = c.exercises.ExecMutation(ctx, stmt.SQL)
	c.metrics.Mutation(err)
	if err != nil {
		c.logger.Error("Exercise correction failed, report left pending",
			zap.String("report_id", reportID),
			zap.String("exercise_id", stmt.ExerciseID),
			zap.Error(err))
		return nil, fmt.Errorf("apply correction: %w", err)
	}
	c.logger.Info("Exercise correction applied",
		zap.String("report_id", reportID),
		zap.String("exercise_id", stmt.ExerciseID),
		zap.Strings("columns", stmt.Columns))

	// The correction is in; the status write must not be abandoned halfway
	ctx = context.WithoutCancel(ctx)
	c.sleep(c.settleDelay)

	return c.commitStatus(ctx, reportID, c.statusUpdate(models.StatusAccepted, processedBy, adminComment, verdict), true)
}

// Accept marks a report accepted without changing its exercise
func (c *Committer) Accept(ctx context.Context, reportID, processedBy, adminComment string, verdict *models.Verdict) (*models.ProblemReport, error) {
	if _, err := c.pendingReport(ctx, reportID); err != nil {
		return nil, err
	}
	return c.commitStatus(ctx, reportID, c.statusUpdate(models.StatusAccepted, processedBy, adminComment, verdict), false)
}

// Decline marks a report declined
func (c *Committer) Decline(ctx context.Context, reportID, processedBy, adminComment string, verdict *models.Verdict) (*models.ProblemReport, error) {
	if _, err := c.pendingReport(ctx, reportID); err != nil {
		return nil, err
	}
	return c.commitStatus(ctx, reportID, c.statusUpdate(models.StatusDeclined, processedBy, adminComment, verdict), false)
}

func (c *Committer) pendingReport(ctx context.Context, reportID string) (*models.ProblemReport, error) {
	report, err := c.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("load report: %w", err)
	}
	if report.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: report %s is %s", ErrNotPending, reportID, report.Status)
	}
	return report, nil
}

func (c *Committer) rejected(reportID string, err error) {
	var r *sqlgate.Rejection
	if errors.As(err, &r) {
		c.metrics.GateRejection(string(r.Reason))
	}
	c.logger.Warn("Correction rejected",
		zap.String("report_id", reportID),
		zap.Error(err))
}

func (c *Committer) statusUpdate(status models.ReportStatus, processedBy, adminComment string, verdict *models.Verdict) models.StatusUpdate {
	upd := models.StatusUpdate{
		Status:       status,
		ProcessedBy:  processedBy,
		AdminComment: adminComment,
		ProcessedAt:  c.now().UTC(),
	}
	if verdict != nil {
		if b, err := json.Marshal(verdict); err == nil {
			upd.AIResponse = string(b)
		}
	}
	return upd
}

// commitStatus writes the status through the structured path and, if that
// fails, through a hand-built statement
func (c *Committer) commitStatus(ctx context.Context, reportID string, upd models.StatusUpdate, correctionApplied bool) (*models.ProblemReport, error) {
	report, primaryErr := c.reports.UpdateStatus(ctx, reportID, upd)
	c.metrics.StatusUpdate(PathPrimary, primaryErr)
	if primaryErr == nil {
		return report, nil
	}
	if errors.Is(primaryErr, repository.ErrAlreadyDecided) {
		return nil, c.lostRace(reportID, correctionApplied)
	}
	c.logger.Warn("Structured status update failed, trying raw statement",
		zap.String("report_id", reportID),
		zap.Error(primaryErr))

	row, err := c.reports.QueryRaw(ctx, rawStatusUpdate(reportID, upd))
	c.metrics.StatusUpdate(PathSecondary, err)
	if errors.Is(err, repository.ErrNotFound) {
		// The row was there when the decision started, so it left pending meanwhile
		return nil, c.lostRace(reportID, correctionApplied)
	}
	if err == nil {
		report = repository.ReportFromRow(row)
		c.logger.Info("Report status recorded through raw statement",
			zap.String("report_id", reportID),
			zap.String("status", string(report.Status)))
		return report, nil
	}

	commitErr := &CommitError{
		ReportID:          reportID,
		CorrectionApplied: correctionApplied,
		Primary:           primaryErr,
		Err:               err,
	}
	c.logger.Error("Both status update paths failed",
		zap.String("report_id", reportID),
		zap.Bool("correction_applied", correctionApplied),
		zap.NamedError("primary_error", primaryErr),
		zap.Error(err))
	if correctionApplied {
		if nerr := c.notifier.CorrectionNotRecorded(ctx, reportID, err); nerr != nil {
			c.logger.Warn("Admin alert not delivered", zap.Error(nerr))
		}
	}
	return nil, commitErr
}

// lostRace reports a decision that arrived after another one was recorded
func (c *Committer) lostRace(reportID string, correctionApplied bool) error {
	c.logger.Warn("Report was decided concurrently, keeping the first decision",
		zap.String("report_id", reportID),
		zap.Bool("correction_applied", correctionApplied))
	return fmt.Errorf("%w: report %s was decided concurrently", ErrNotPending, reportID)
}

// rawStatusUpdate builds the fallback UPDATE with every value inlined as a
// quoted literal. Like the structured path it only touches a pending report.
func rawStatusUpdate(reportID string, upd models.StatusUpdate) string {
	return fmt.Sprintf(
		"UPDATE problem_reports SET status = %s, processed_by = %s, admin_comment = %s, ai_response = %s, processed_at = %s WHERE id = %s AND status = %s RETURNING %s",
		quote(string(upd.Status)),
		quote(upd.ProcessedBy),
		quote(upd.AdminComment),
		quote(upd.AIResponse),
		quote(upd.ProcessedAt.UTC().Format(repository.RawTimeLayout)),
		quote(reportID),
		quote(string(models.StatusPending)),
		repository.ReportColumns,
	)
}

// quote renders s as a SQL string literal, doubling single quotes
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tudobem/internal/metrics"
	"tudobem/internal/models"
	"tudobem/internal/sqlgate"
)

const validCorrection = `UPDATE exercises SET correct_answer = 'fosse', hint = 'ser (conjuntivo)' WHERE id = '11111111-1111-1111-1111-111111111111';`

type committerFixture struct {
	stores
	reports   *flakyReports
	exercises *countingExercises
	notifier  *recordingNotifier
	committer *Committer
	slept     []time.Duration
}

func newCommitterFixture(t *testing.T) *committerFixture {
	f := &committerFixture{stores: newStores(t), notifier: &recordingNotifier{}}
	f.reports = &flakyReports{ReportRepository: f.stores.reports}
	f.exercises = &countingExercises{inner: f.stores.exercises}
	f.committer = NewCommitter(f.reports, f.exercises, f.notifier, metrics.New(), CommitterConfig{SettleDelay: 250 * time.Millisecond}, nil)
	f.committer.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

func verdict() *models.Verdict {
	return &models.Verdict{IsValid: true, Explanation: "Needs the subjunctive.", SQLCorrection: validCorrection}
}

func TestCommitter_ApplyCorrectionAndAccept(t *testing.T) {
	f := newCommitterFixture(t)
	ctx := context.Background()

	report, err := f.committer.ApplyCorrectionAndAccept(ctx, reportID, validCorrection, "admin@tudobem", "Fixed, thanks", verdict())
	require.NoError(t, err)

	assert.Equal(t, models.StatusAccepted, report.Status)
	require.NotNil(t, report.ProcessedBy)
	assert.Equal(t, "admin@tudobem", *report.ProcessedBy)
	require.NotNil(t, report.AIResponse)
	var stored models.Verdict
	require.NoError(t, json.Unmarshal([]byte(*report.AIResponse), &stored))
	assert.Equal(t, "Needs the subjunctive.", stored.Explanation)
	require.NotNil(t, report.ProcessedAt)

	ex, err := f.stores.exercises.GetByID(ctx, exerciseID)
	require.NoError(t, err)
	assert.Equal(t, "fosse", ex.CorrectAnswer)
	assert.Equal(t, "ser (conjuntivo)", ex.Hint)

	assert.Equal(t, []time.Duration{250 * time.Millisecond}, f.slept)
	assert.Equal(t, 1, f.reports.primaryCalls)
	assert.Zero(t, f.reports.rawCalls)
}

func TestCommitter_GateRejectTouchesNothing(t *testing.T) {
	f := newCommitterFixture(t)

	bad := `UPDATE exercises SET usage_count = 0 WHERE id = '11111111-1111-1111-1111-111111111111';`
	_, err := f.committer.ApplyCorrectionAndAccept(context.Background(), reportID, bad, "admin", "", verdict())

	var r *sqlgate.Rejection
	require.ErrorAs(t, err, &r)
	assert.Equal(t, sqlgate.ReasonDisallowedColumns, r.Reason)
	assert.Equal(t, []string{"usage_count"}, r.Columns)

	assert.Zero(t, f.exercises.calls)
	assert.Zero(t, f.reports.primaryCalls)
	assert.Zero(t, f.reports.rawCalls)
	assert.Empty(t, f.slept)

	report, err := f.stores.reports.GetByID(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, report.Status)
}

func TestCommitter_CorrectionForAnotherExercise(t *testing.T) {
	f := newCommitterFixture(t)

	other := `UPDATE exercises SET hint = 'x' WHERE id = '99999999-9999-9999-9999-999999999999';`
	_, err := f.committer.ApplyCorrectionAndAccept(context.Background(), reportID, other, "admin", "", nil)

	var r *sqlgate.Rejection
	require.ErrorAs(t, err, &r)
	assert.Equal(t, sqlgate.ReasonExerciseMismatch, r.Reason)
	assert.Zero(t, f.exercises.calls)
}

func TestCommitter_MutationFailureLeavesReportPending(t *testing.T) {
	f := newCommitterFixture(t)
	f.exercises.err = errors.New("statement timeout")

	_, err := f.committer.ApplyCorrectionAndAccept(context.Background(), reportID, validCorrection, "admin", "", verdict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")

	assert.Equal(t, 1, f.exercises.calls)
	assert.Zero(t, f.reports.primaryCalls)
	assert.Zero(t, f.reports.rawCalls)

	report, err := f.stores.reports.GetByID(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, report.Status)
}

func TestCommitter_SecondaryPathRoundTripsEscapedComment(t *testing.T) {
	f := newCommitterFixture(t)
	f.reports.failPrimary = true
	comment := `O'Neil's note: it's "fosse", not 'era'; DROP TABLE x; --`

	report, err := f.committer.ApplyCorrectionAndAccept(context.Background(), reportID, validCorrection, "o'brien", comment, verdict())
	require.NoError(t, err)

	assert.Equal(t, 1, f.reports.primaryCalls)
	assert.Equal(t, 1, f.reports.rawCalls)
	assert.Equal(t, models.StatusAccepted, report.Status)
	require.NotNil(t, report.AdminComment)
	assert.Equal(t, comment, *report.AdminComment)
	require.NotNil(t, report.ProcessedBy)
	assert.Equal(t, "o'brien", *report.ProcessedBy)

	stored, err := f.stores.reports.GetByID(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, stored.Status)
	assert.Equal(t, comment, *stored.AdminComment)

	var v models.Verdict
	require.NoError(t, json.Unmarshal([]byte(*stored.AIResponse), &v))
	assert.Equal(t, validCorrection, v.SQLCorrection)
}

func TestCommitter_BothPathsFail(t *testing.T) {
	f := newCommitterFixture(t)
	f.reports.failPrimary = true
	f.reports.failSecondary = true

	_, err := f.committer.ApplyCorrectionAndAccept(context.Background(), reportID, validCorrection, "admin", "", verdict())

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.True(t, commitErr.CorrectionApplied)
	assert.EqualError(t, commitErr.Err, "database is gone")
	assert.Contains(t, commitErr.Primary.Error(), "connection reset")
	assert.Equal(t, []string{reportID}, f.notifier.unrecorded)

	// The known gap: content changed, report still pending
	ex, err := f.stores.exercises.GetByID(context.Background(), exerciseID)
	require.NoError(t, err)
	assert.Equal(t, "fosse", ex.CorrectAnswer)
	report, err := f.stores.reports.GetByID(context.Background(), reportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, report.Status)
}

func TestCommitter_AcceptAndDecline(t *testing.T) {
	f := newCommitterFixture(t)
	ctx := context.Background()

	report, err := f.committer.Decline(ctx, reportID, "admin", "Exercise is correct", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, report.Status)
	assert.Zero(t, f.exercises.calls)
	assert.Empty(t, f.slept)

	_, err = f.committer.Accept(ctx, reportID, "admin", "", nil)
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = f.committer.Decline(ctx, "33333333-3333-3333-3333-333333333333", "admin", "", nil)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestCommitter_AcceptWithoutCorrectionUsesSecondaryPath(t *testing.T) {
	f := newCommitterFixture(t)
	f.reports.failPrimary = true
	f.reports.failSecondary = true

	_, err := f.committer.Accept(context.Background(), reportID, "admin", "", nil)

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.False(t, commitErr.CorrectionApplied)
	assert.Empty(t, f.notifier.unrecorded)
}

func TestCommitter_ConcurrentDecisionKeepsFirst(t *testing.T) {
	for _, failPrimary := range []bool{false, true} {
		name := "structured path"
		if failPrimary {
			name = "raw path"
		}
		t.Run(name, func(t *testing.T) {
			f := newCommitterFixture(t)
			ctx := context.Background()
			f.reports.failPrimary = failPrimary
			// Another admin declines between our pending check and our write
			f.reports.beforeWrite = func() {
				_, err := f.stores.reports.UpdateStatus(ctx, reportID, models.StatusUpdate{
					Status:      models.StatusDeclined,
					ProcessedBy: "other-admin",
					ProcessedAt: time.Now(),
				})
				require.NoError(t, err)
			}

			_, err := f.committer.ApplyCorrectionAndAccept(ctx, reportID, validCorrection, "admin", "", verdict())
			assert.ErrorIs(t, err, ErrNotPending)
			var commitErr *CommitError
			assert.False(t, errors.As(err, &commitErr))

			stored, err := f.stores.reports.GetByID(ctx, reportID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDeclined, stored.Status)
			require.NotNil(t, stored.ProcessedBy)
			assert.Equal(t, "other-admin", *stored.ProcessedBy)
		})
	}
}

func TestRawStatusUpdate(t *testing.T) {
	sql := rawStatusUpdate("r'1", models.StatusUpdate{
		Status:       models.StatusAccepted,
		ProcessedBy:  "a",
		AdminComment: "it's",
		ProcessedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, sql, "admin_comment = 'it''s'")
	assert.Contains(t, sql, "WHERE id = 'r''1' AND status = 'pending'")
	assert.Contains(t, sql, "processed_at = '2024-05-01 12:00:00+00:00'")
	assert.Contains(t, sql, "RETURNING id, exercise_id")
}

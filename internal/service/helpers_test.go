package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tudobem/internal/models"
	"tudobem/internal/repository"
)

const (
	exerciseID = "11111111-1111-1111-1111-111111111111"
	reportID   = "22222222-2222-2222-2222-222222222222"
)

type stores struct {
	exercises *repository.ExerciseRepository
	reports   *repository.ReportRepository
}

func newStores(t *testing.T) stores {
	t.Helper()
	logger := zap.NewNop()

	db, err := repository.NewDB(repository.TypeSQLite, filepath.Join(t.TempDir(), "service.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, repository.TypeSQLite, logger))

	s := stores{
		exercises: repository.NewExerciseRepository(db, time.Second, logger),
		reports:   repository.NewReportRepository(db, time.Second, logger),
	}

	ctx := context.Background()
	require.NoError(t, s.exercises.Create(ctx, &models.ExerciseSnapshot{
		ID:            exerciseID,
		Sentence:      "Se eu ___ rico, viajava.",
		CorrectAnswer: "era",
		Hint:          "ser",
		Level:         "B1",
		Topic:         "conjuntivo",
	}))
	require.NoError(t, s.reports.Create(ctx, &models.ProblemReport{
		ID:          reportID,
		ExerciseID:  exerciseID,
		ProblemType: models.IncorrectAnswer,
		UserComment: "wrong verb form",
		Status:      models.StatusPending,
		CreatedAt:   time.Now(),
	}))
	return s
}

// flakyReports fails the structured status write and optionally the raw one
type flakyReports struct {
	*repository.ReportRepository
	failPrimary   bool
	failSecondary bool
	// beforeWrite runs once ahead of the first status write
	beforeWrite func()

	mu           sync.Mutex
	primaryCalls int
	rawCalls     int
	rawQueries   []string
}

func (f *flakyReports) UpdateStatus(ctx context.Context, id string, upd models.StatusUpdate) (*models.ProblemReport, error) {
	f.mu.Lock()
	f.primaryCalls++
	f.mu.Unlock()
	f.runBeforeWrite()
	if f.failPrimary {
		return nil, errors.New("connection reset by peer")
	}
	return f.ReportRepository.UpdateStatus(ctx, id, upd)
}

func (f *flakyReports) QueryRaw(ctx context.Context, query string) (map[string]interface{}, error) {
	f.mu.Lock()
	f.rawCalls++
	f.rawQueries = append(f.rawQueries, query)
	f.mu.Unlock()
	f.runBeforeWrite()
	if f.failSecondary {
		return nil, errors.New("database is gone")
	}
	return f.ReportRepository.QueryRaw(ctx, query)
}

func (f *flakyReports) runBeforeWrite() {
	f.mu.Lock()
	hook := f.beforeWrite
	f.beforeWrite = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// countingExercises records mutation attempts
type countingExercises struct {
	inner *repository.ExerciseRepository
	err   error
	calls int
}

func (c *countingExercises) ExecMutation(ctx context.Context, statement string) (int64, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return c.inner.ExecMutation(ctx, statement)
}

type recordingNotifier struct {
	submitted  []string
	unrecorded []string
}

func (r *recordingNotifier) ReportSubmitted(_ context.Context, report *models.ProblemReport) error {
	r.submitted = append(r.submitted, report.ID)
	return nil
}

func (r *recordingNotifier) CorrectionNotRecorded(_ context.Context, id string, _ error) error {
	r.unrecorded = append(r.unrecorded, id)
	return errors.New("telegram unavailable")
}

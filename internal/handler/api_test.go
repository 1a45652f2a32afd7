package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tudobem/internal/llm"
	"tudobem/internal/metrics"
	"tudobem/internal/models"
	"tudobem/internal/repository"
	"tudobem/internal/service"
	"tudobem/internal/triage"
)

const exerciseID = "11111111-1111-1111-1111-111111111111"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := repository.NewDB(repository.TypeSQLite, filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, repository.TypeSQLite, logger))

	exercises := repository.NewExerciseRepository(db, time.Second, logger)
	reports := repository.NewReportRepository(db, time.Second, logger)
	require.NoError(t, exercises.Create(context.Background(), &models.ExerciseSnapshot{
		ID:            exerciseID,
		Sentence:      "Eu ___ português.",
		CorrectAnswer: "falo",
		Level:         "A1",
		Topic:         "presente",
	}))

	m := metrics.New()
	analyzer := triage.NewAnalyzer(llm.NewUnavailable(nil), triage.Config{}, logger)
	h := NewHandler(
		service.NewReports(reports, exercises, nil, logger),
		service.NewTriageService(analyzer, reports, exercises, m, logger),
		service.NewCommitter(reports, exercises, nil, m, service.CommitterConfig{SettleDelay: time.Millisecond}, logger),
		analyzer,
		m,
		logger,
	)

	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func submit(t *testing.T, r http.Handler) models.ProblemReport {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/v1/reports", gin.H{
		"exercise_id":  exerciseID,
		"problem_type": "incorrect_answer",
		"user_comment": "should also accept 'falo eu'",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var report models.ProblemReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	return report
}

func TestReportLifecycle(t *testing.T) {
	r := newTestRouter(t)
	report := submit(t, r)
	assert.Equal(t, models.StatusPending, report.Status)

	rec := do(t, r, http.MethodGet, "/api/v1/reports/"+report.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/v1/admin/reports/"+report.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result service.TriageResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, service.SourceFallback, result.Source)

	rec = do(t, r, http.MethodPost, "/api/v1/admin/reports/"+report.ID+"/accept", gin.H{
		"processed_by":   "admin",
		"admin_comment":  "added the hint",
		"sql_correction": "UPDATE exercises SET hint = 'falar' WHERE id = '" + exerciseID + "';",
		"verdict":        result.Verdict,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var accepted models.ProblemReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, models.StatusAccepted, accepted.Status)

	rec = do(t, r, http.MethodPost, "/api/v1/admin/reports/"+report.ID+"/decline", gin.H{"processed_by": "admin"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/v1/reports?status=accepted", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestAcceptRejectedCorrection(t *testing.T) {
	r := newTestRouter(t)
	report := submit(t, r)

	rec := do(t, r, http.MethodPost, "/api/v1/admin/reports/"+report.ID+"/accept", gin.H{
		"processed_by":   "admin",
		"sql_correction": "UPDATE exercises SET usage_count = 0 WHERE id = '" + exerciseID + "';",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"disallowed_columns"`)
	assert.Contains(t, rec.Body.String(), "usage_count")
}

func TestSubmitReport_Invalid(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/reports", gin.H{"exercise_id": exerciseID, "problem_type": "rude"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/v1/reports", gin.H{
		"exercise_id":  "99999999-9999-9999-9999-999999999999",
		"problem_type": "typo",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, http.MethodGet, "/api/v1/reports?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateSQL(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/admin/sql/validate", gin.H{
		"sql": "UPDATE exercises SET hint = 'x' WHERE id = '" + exerciseID + "'",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"columns":["hint"]`)

	rec = do(t, r, http.MethodPost, "/api/v1/admin/sql/validate", gin.H{"sql": "DELETE FROM exercises"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"caches"`)

	rec = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tudobem/internal/metrics"
	"tudobem/internal/models"
	"tudobem/internal/service"
	"tudobem/internal/sqlgate"
	"tudobem/internal/triage"
)

// CacheStats reports cache sizes for the health check
type CacheStats interface {
	Stats() triage.CacheStats
}

// Handler handles HTTP requests
type Handler struct {
	reports   *service.Reports
	triage    *service.TriageService
	committer *service.Committer
	caches    CacheStats
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(
	reports *service.Reports,
	triageService *service.TriageService,
	committer *service.Committer,
	caches CacheStats,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		reports:   reports,
		triage:    triageService,
		committer: committer,
		caches:    caches,
		metrics:   m,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes. Admin routes expect the
// upstream proxy to have authenticated the caller.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/reports", h.SubmitReport)
		api.GET("/reports", h.ListReports)
		api.GET("/reports/:id", h.GetReport)

		admin := api.Group("/admin")
		admin.POST("/reports/:id/analyze", h.AnalyzeReport)
		admin.POST("/reports/:id/accept", h.AcceptReport)
		admin.POST("/reports/:id/decline", h.DeclineReport)
		admin.POST("/sql/validate", h.ValidateSQL)
	}

	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
}

// AcceptRequest is the admin decision to accept a report. A non-empty
// SQLCorrection is validated and applied before the status changes.
type AcceptRequest struct {
	ProcessedBy   string          `json:"processed_by" binding:"required"`
	AdminComment  string          `json:"admin_comment"`
	SQLCorrection string          `json:"sql_correction"`
	Verdict       *models.Verdict `json:"verdict"`
}

// DeclineRequest is the admin decision to decline a report
type DeclineRequest struct {
	ProcessedBy  string          `json:"processed_by" binding:"required"`
	AdminComment string          `json:"admin_comment"`
	Verdict      *models.Verdict `json:"verdict"`
}

// ValidateSQLRequest asks whether a correction would pass the gate
type ValidateSQLRequest struct {
	SQL        string `json:"sql" binding:"required"`
	ExerciseID string `json:"exercise_id"`
}

func (h *Handler) SubmitReport(c *gin.Context) {
	var req models.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.reports.Submit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "failed to submit report")
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context(), models.ReportStatus(c.Query("status")))
	if err != nil {
		h.respondError(c, err, "failed to list reports")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(reports),
		"reports": reports,
	})
}

func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to get report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// AnalyzeReport always answers with a verdict once the report is found
func (h *Handler) AnalyzeReport(c *gin.Context) {
	result, err := h.triage.AnalyzeReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to analyze report")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) AcceptReport(c *gin.Context) {
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	var (
		report *models.ProblemReport
		err    error
	)
	if req.SQLCorrection != "" {
		report, err = h.committer.ApplyCorrectionAndAccept(ctx, c.Param("id"), req.SQLCorrection, req.ProcessedBy, req.AdminComment, req.Verdict)
	} else {
		report, err = h.committer.Accept(ctx, c.Param("id"), req.ProcessedBy, req.AdminComment, req.Verdict)
	}
	if err != nil {
		h.respondError(c, err, "failed to accept report")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) DeclineReport(c *gin.Context) {
	var req DeclineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.committer.Decline(c.Request.Context(), c.Param("id"), req.ProcessedBy, req.AdminComment, req.Verdict)
	if err != nil {
		h.respondError(c, err, "failed to decline report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// ValidateSQL runs the gate without touching the database
func (h *Handler) ValidateSQL(c *gin.Context) {
	var req ValidateSQLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stmt, err := sqlgate.Validate(req.SQL)
	if err == nil && req.ExerciseID != "" {
		err = sqlgate.CheckTarget(stmt, req.ExerciseID)
	}
	if err != nil {
		h.respondError(c, err, "validation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"exercise_id": stmt.ExerciseID,
		"columns":     stmt.Columns,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "tudobem-triage",
		"version": "1.0.0",
	}
	if h.caches != nil {
		body["caches"] = h.caches.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// respondError maps service errors to status codes
func (h *Handler) respondError(c *gin.Context, err error, msg string) {
	var (
		rejection  *sqlgate.Rejection
		validation *service.ValidationError
		commitErr  *service.CommitError
	)
	switch {
	case errors.As(err, &rejection):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   rejection.Message,
			"reason":  rejection.Reason,
			"columns": rejection.Columns,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report", "fields": validation.Fields})
	case errors.Is(err, service.ErrReportNotFound), errors.Is(err, service.ErrExerciseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &commitErr):
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":              err.Error(),
			"correction_applied": commitErr.CorrectionApplied,
		})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

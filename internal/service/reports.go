package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tudobem/internal/models"
	"tudobem/internal/notify"
	"tudobem/internal/repository"
)

var (
	ErrReportNotFound   = errors.New("report not found")
	ErrExerciseNotFound = errors.New("exercise not found")
	ErrNotPending       = errors.New("report is not pending")
	ErrInvalidStatus    = errors.New("invalid report status")
)

// ValidationError wraps field validation failures of a submission
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, rule := range e.Fields {
		parts = append(parts, field+": "+rule)
	}
	return "invalid report: " + strings.Join(parts, ", ")
}

// ReportRepository is the report store used for submissions and listing
type ReportRepository interface {
	Create(ctx context.Context, report *models.ProblemReport) error
	GetByID(ctx context.Context, id string) (*models.ProblemReport, error)
	List(ctx context.Context, status models.ReportStatus) ([]*models.ProblemReport, error)
}

// Reports handles learner submissions and report lookups
type Reports struct {
	reports   ReportRepository
	exercises ExerciseReader
	notifier  notify.Notifier
	validate  *validator.Validate
	now       func() time.Time
	logger    *zap.Logger
}

func NewReports(reports ReportRepository, exercises ExerciseReader, notifier notify.Notifier, logger *zap.Logger) *Reports {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Reports{
		reports:   reports,
		exercises: exercises,
		notifier:  notifier,
		validate:  NewValidator(),
		now:       time.Now,
		logger:    logger,
	}
}

// NewValidator returns a validator that knows the problem_type rule
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("problem_type", func(fl validator.FieldLevel) bool {
		return models.ProblemType(fl.Field().String()).Valid()
	})
	return v
}

// Submit validates and stores a new pending report, then tells admins
func (s *Reports) Submit(ctx context.Context, req models.SubmitReportRequest) (*models.ProblemReport, error) {
	req.UserComment = strings.TrimSpace(req.UserComment)
	req.UserAnswer = strings.TrimSpace(req.UserAnswer)
	req.Reporter = strings.TrimSpace(req.Reporter)

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			return nil, &ValidationError{Fields: fields}
		}
		return nil, fmt.Errorf("validate report: %w", err)
	}

	if _, err := s.exercises.GetByID(ctx, req.ExerciseID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExerciseNotFound
		}
		return nil, fmt.Errorf("load exercise: %w", err)
	}

	report := &models.ProblemReport{
		ID:          uuid.NewString(),
		ExerciseID:  req.ExerciseID,
		ProblemType: req.ProblemType,
		UserComment: req.UserComment,
		UserAnswer:  req.UserAnswer,
		Reporter:    req.Reporter,
		Status:      models.StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, err
	}

	s.logger.Info("Problem report submitted",
		zap.String("report_id", report.ID),
		zap.String("exercise_id", report.ExerciseID),
		zap.String("problem_type", string(report.ProblemType)))

	if err := s.notifier.ReportSubmitted(ctx, report); err != nil {
		s.logger.Warn("Admin notification not delivered",
			zap.String("report_id", report.ID),
			zap.Error(err))
	}
	return report, nil
}

func (s *Reports) Get(ctx context.Context, id string) (*models.ProblemReport, error) {
	report, err := s.reports.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrReportNotFound
	}
	return report, err
}

// List returns reports, all of them when status is empty
func (s *Reports) List(ctx context.Context, status models.ReportStatus) ([]*models.ProblemReport, error) {
	switch status {
	case "", models.StatusPending, models.StatusAccepted, models.StatusDeclined:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.reports.List(ctx, status)
}

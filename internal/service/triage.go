package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tudobem/internal/metrics"
	"tudobem/internal/models"
	"tudobem/internal/repository"
	"tudobem/internal/triage"
)

// Source says where a verdict came from
type Source string

const (
	SourceModel        Source = "model"
	SourcePatternCache Source = "pattern_cache"
	SourceFallback     Source = "fallback"
)

// TriageResult is always produced, whatever happened to the model call
type TriageResult struct {
	ReportID       string         `json:"report_id"`
	Verdict        models.Verdict `json:"verdict"`
	Source         Source         `json:"source"`
	ParseStage     string         `json:"parse_stage,omitempty"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
}

// ReportReader loads reports
type ReportReader interface {
	GetByID(ctx context.Context, id string) (*models.ProblemReport, error)
}

// ExerciseReader loads exercise snapshots
type ExerciseReader interface {
	GetByID(ctx context.Context, id string) (*models.ExerciseSnapshot, error)
}

// Analyzer is the model-backed triage step
type Analyzer interface {
	Analyze(ctx context.Context, report *models.ProblemReport, exercise *models.ExerciseSnapshot) (*triage.Analysis, error)
}

// TriageService runs the analyzer and falls back to canned verdicts when it
// fails, so callers never see a transport error
type TriageService struct {
	analyzer  Analyzer
	reports   ReportReader
	exercises ExerciseReader
	group     singleflight.Group
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewTriageService(analyzer Analyzer, reports ReportReader, exercises ExerciseReader, m *metrics.Metrics, logger *zap.Logger) *TriageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriageService{
		analyzer:  analyzer,
		reports:   reports,
		exercises: exercises,
		metrics:   m,
		logger:    logger,
	}
}

// AnalyzeReport loads a report and its exercise and triages it. Only load
// failures are returned as errors.
func (s *TriageService) AnalyzeReport(ctx context.Context, reportID string) (*TriageResult, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("load report: %w", err)
	}

	exercise, err := s.exercises.GetByID(ctx, report.ExerciseID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("load exercise: %w", err)
		}
		// The model can still judge the comment without the exercise
		s.logger.Warn("Exercise of report not found",
			zap.String("report_id", report.ID),
			zap.String("exercise_id", report.ExerciseID))
		exercise = &models.ExerciseSnapshot{ID: report.ExerciseID}
	}

	result := s.Analyze(ctx, report, exercise)
	return &result, nil
}

// Analyze never fails. Concurrent calls sharing a fingerprint share one
// model call; reports other than the one that made it get the verdict back
// through the pattern cache, marked as reused.
func (s *TriageService) Analyze(ctx context.Context, report *models.ProblemReport, exercise *models.ExerciseSnapshot) TriageResult {
	if report == nil {
		s.logger.Warn("Falling back to canned verdict", zap.Error(triage.ErrNoReport))
		s.metrics.TriageResult(string(SourceFallback))
		return TriageResult{
			Verdict:        triage.Fallback(models.OtherProblem),
			Source:         SourceFallback,
			FallbackReason: triage.ErrNoReport.Error(),
		}
	}

	analysis, shared, err := s.analyze(ctx, report, exercise)

	var result TriageResult
	if err != nil {
		s.logger.Warn("Falling back to canned verdict",
			zap.String("report_id", report.ID),
			zap.String("problem_type", string(report.ProblemType)),
			zap.Error(err))
		result = TriageResult{
			Verdict:        triage.Fallback(report.ProblemType),
			Source:         SourceFallback,
			FallbackReason: err.Error(),
		}
	} else {
		result = TriageResult{
			Verdict:    analysis.Verdict,
			Source:     SourceModel,
			ParseStage: string(analysis.Stage),
		}
		if analysis.FromPatternCache {
			result.Source = SourcePatternCache
		} else {
			s.metrics.ParseStage(result.ParseStage)
		}
	}
	result.ReportID = report.ID

	s.metrics.TriageResult(string(result.Source))
	s.logger.Info("Report triaged",
		zap.String("report_id", report.ID),
		zap.String("source", string(result.Source)),
		zap.Bool("shared", shared),
		zap.Bool("is_valid", result.Verdict.IsValid))
	return result
}

// flight is the outcome of one shared analyzer run
type flight struct {
	analysis *triage.Analysis
	reportID string
}

func (s *TriageService) analyze(ctx context.Context, report *models.ProblemReport, exercise *models.ExerciseSnapshot) (*triage.Analysis, bool, error) {
	v, err, shared := s.group.Do(triage.PatternKey(report, exercise), func() (interface{}, error) {
		analysis, err := s.analyzer.Analyze(ctx, report, exercise)
		if err != nil {
			return nil, err
		}
		return &flight{analysis: analysis, reportID: report.ID}, nil
	})
	if err != nil {
		return nil, shared, err
	}

	f := v.(*flight)
	if f.reportID == report.ID || f.analysis.FromPatternCache {
		return f.analysis, shared, nil
	}
	// A fresh verdict made for another report is now in the pattern cache;
	// reading it back marks it as reused.
	analysis, err := s.analyzer.Analyze(ctx, report, exercise)
	return analysis, shared, err
}

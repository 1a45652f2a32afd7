// Package notify tells admins about new problem reports and about commits
// that left a report out of sync with its exercise.
package notify

import (
	"context"

	"tudobem/internal/models"
)

// Notifier delivers admin alerts. Delivery is best effort: callers log
// errors and carry on.
type Notifier interface {
	ReportSubmitted(ctx context.Context, report *models.ProblemReport) error
	CorrectionNotRecorded(ctx context.Context, reportID string, cause error) error
}

// Nop drops every notification
type Nop struct{}

func (Nop) ReportSubmitted(context.Context, *models.ProblemReport) error { return nil }

func (Nop) CorrectionNotRecorded(context.Context, string, error) error { return nil }

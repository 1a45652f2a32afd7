package models

import "time"

// ProblemType is the closed set of complaint categories a learner can pick
type ProblemType string

const (
	IncorrectAnswer      ProblemType = "incorrect_answer"      // The expected answer is wrong
	MissingAnswer        ProblemType = "missing_answer"        // A correct alternative is not accepted
	IncorrectHint        ProblemType = "incorrect_hint"        // Hint is misleading or irrelevant
	IncorrectOptions     ProblemType = "incorrect_options"     // Multiple choice options are broken
	IncorrectExplanation ProblemType = "incorrect_explanation" // Grammar explanation is wrong
	Typo                 ProblemType = "typo"                  // Spelling or punctuation issue
	OtherProblem         ProblemType = "other"                 // Anything else
)

// ProblemTypeNames maps problem types to the labels shown to admins
var ProblemTypeNames = map[ProblemType]string{
	IncorrectAnswer:      "Incorrect answer",
	MissingAnswer:        "Missing alternative answer",
	IncorrectHint:        "Incorrect hint",
	IncorrectOptions:     "Incorrect multiple choice options",
	IncorrectExplanation: "Incorrect explanation",
	Typo:                 "Typo",
	OtherProblem:         "Other",
}

// Valid reports whether t belongs to the closed set
func (t ProblemType) Valid() bool {
	_, ok := ProblemTypeNames[t]
	return ok
}

// ReportStatus is the lifecycle state of a problem report
type ReportStatus string

const (
	StatusPending  ReportStatus = "pending"
	StatusAccepted ReportStatus = "accepted"
	StatusDeclined ReportStatus = "declined"
)

// ProblemReport is a learner complaint about a single exercise.
// Rows are created on submission and only ever change status through an
// admin triage decision.
type ProblemReport struct {
	ID           string       `json:"id" db:"id"`
	ExerciseID   string       `json:"exercise_id" db:"exercise_id"`
	ProblemType  ProblemType  `json:"problem_type" db:"problem_type"`
	UserComment  string       `json:"user_comment" db:"user_comment"`
	UserAnswer   string       `json:"user_answer,omitempty" db:"user_answer"`
	Reporter     string       `json:"reporter,omitempty" db:"reporter"`
	Status       ReportStatus `json:"status" db:"status"`
	ProcessedBy  *string      `json:"processed_by,omitempty" db:"processed_by"`
	AdminComment *string      `json:"admin_comment,omitempty" db:"admin_comment"`
	AIResponse   *string      `json:"ai_response,omitempty" db:"ai_response"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time   `json:"processed_at,omitempty" db:"processed_at"`
}

// SubmitReportRequest is what a learner sends when flagging an exercise
type SubmitReportRequest struct {
	ExerciseID  string      `json:"exercise_id" binding:"required" validate:"required,uuid"`
	ProblemType ProblemType `json:"problem_type" binding:"required" validate:"required,problem_type"`
	UserComment string      `json:"user_comment" validate:"max=2000"`
	UserAnswer  string      `json:"user_answer" validate:"max=500"`
	Reporter    string      `json:"reporter" validate:"max=255"`
}

// StatusUpdate carries the fields written when a report leaves pending
type StatusUpdate struct {
	Status       ReportStatus
	ProcessedBy  string
	AdminComment string
	AIResponse   string
	ProcessedAt  time.Time
}

package triage

import (
	"strings"
	"unicode/utf8"

	"tudobem/internal/models"
)

// briefCommentLimit splits comments into the "brief" and "detailed" buckets
const briefCommentLimit = 50

// PatternKey is the similarity fingerprint used by the pattern cache.
// Different reports on different exercises collide on purpose when they
// share problem type, level, topic and the same coarse shape.
func PatternKey(report *models.ProblemReport, exercise *models.ExerciseSnapshot) string {
	length := "detailed"
	if utf8.RuneCountInString(report.UserComment) < briefCommentLimit {
		length = "brief"
	}
	hint := "no_hint"
	if exercise.HasHint() {
		hint = "with_hint"
	}
	options := "no_options"
	if exercise.HasOptions() {
		options = "with_options"
	}

	var level, topic string
	if exercise != nil {
		level, topic = exercise.Level, exercise.Topic
	}

	return strings.Join([]string{
		string(report.ProblemType),
		level,
		topic,
		length,
		hint,
		options,
	}, "_")
}

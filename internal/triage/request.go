package triage

import (
	"fmt"
	"strings"

	"tudobem/internal/models"
)

// responseContract is appended to every first turn. Later turns rely on the
// conversation already containing it.
const responseContract = `Respond with strict JSON only, no prose and no markdown, using exactly this shape:
{
  "analysis": {"isValid": true, "severity": "low|medium|high", "category": "<short label>"},
  "explanation": {"summary": "<one sentence>", "details": "<what is wrong or why it is fine>", "impact": "<effect on learners>"},
  "correction": {"needed": true, "sqlStatement": "UPDATE exercises SET ... WHERE id = '<exercise id>';", "changes": ["<change>"], "reasoning": "<why>"}
}
When no change is needed set "needed" to false and leave "sqlStatement" empty.`

// BuildFullRequest renders the first-turn message: system prompt, the whole
// exercise, the report and the response contract.
func BuildFullRequest(report *models.ProblemReport, exercise *models.ExerciseSnapshot, systemPrompt string) string {
	var b strings.Builder

	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}

	ex := exercise
	if ex == nil {
		ex = &models.ExerciseSnapshot{ID: report.ExerciseID}
	}

	b.WriteString("EXERCISE\n")
	fmt.Fprintf(&b, "ID: %s\n", ex.ID)
	fmt.Fprintf(&b, "Level: %s\n", orNone(ex.Level))
	fmt.Fprintf(&b, "Topic: %s\n", orNone(ex.Topic))
	fmt.Fprintf(&b, "Sentence: %s\n", orNone(ex.Sentence))
	fmt.Fprintf(&b, "Correct answer: %s\n", orNone(ex.CorrectAnswer))
	fmt.Fprintf(&b, "Hint: %s\n", orNone(ex.Hint))
	fmt.Fprintf(&b, "Options: %s\n", orNone(strings.Join(ex.MultipleChoiceOptions, " / ")))
	fmt.Fprintf(&b, "Current explanation: %s\n", orNone(ex.Explanation))

	b.WriteString("\nREPORT\n")
	fmt.Fprintf(&b, "ID: %s\n", report.ID)
	fmt.Fprintf(&b, "Problem type: %s (%s)\n", report.ProblemType, models.ProblemTypeNames[report.ProblemType])
	fmt.Fprintf(&b, "User comment: %s\n", orNone(report.UserComment))
	if report.UserAnswer != "" {
		fmt.Fprintf(&b, "User answer: %s\n", report.UserAnswer)
	}
	fmt.Fprintf(&b, "Reporter: %s\n", orNone(report.Reporter))

	b.WriteString("\n")
	b.WriteString(responseContract)
	return b.String()
}

// BuildMinimalRequest renders a continuation turn as a single line
func BuildMinimalRequest(report *models.ProblemReport, exercise *models.ExerciseSnapshot) string {
	ex := exercise
	if ex == nil {
		ex = &models.ExerciseSnapshot{ID: report.ExerciseID}
	}

	fields := []string{
		"New report",
		"type=" + string(report.ProblemType),
		"exercise=" + ex.ID,
		"level=" + ex.Level,
		"sentence=" + ex.Sentence,
		"hint=" + ex.Hint,
		"answer=" + ex.CorrectAnswer,
		"options=" + strings.Join(ex.MultipleChoiceOptions, "/"),
		"comment=" + report.UserComment,
	}
	return flatten(strings.Join(fields, " | ")) + " | same JSON format"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

// flatten collapses all whitespace runs, newlines included, to one space
func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

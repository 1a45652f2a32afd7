package triage

import "tudobem/internal/models"

const fallbackPrefix = "Automatic analysis is unavailable. "

var fallbackGuidance = map[models.ProblemType]string{
	models.IncorrectAnswer:      "Check the expected answer against the sentence, the level and European Portuguese usage.",
	models.MissingAnswer:        "Check whether the learner's answer is an acceptable alternative that should also be accepted.",
	models.IncorrectHint:        "Check that the hint points to the expected form without giving it away.",
	models.IncorrectOptions:     "Check that exactly one option is correct and that the distractors are plausible.",
	models.IncorrectExplanation: "Check the grammar explanation against the expected answer.",
	models.Typo:                 "Check spelling, accents and punctuation in the sentence, answer and hint.",
	models.OtherProblem:         "Read the learner's comment and review the exercise manually.",
}

// Fallback returns the canned verdict for a problem type. It is a pure
// lookup used when the model cannot be reached, so triage always produces
// a verdict. Canned verdicts never propose a correction.
func Fallback(problemType models.ProblemType) models.Verdict {
	guidance, ok := fallbackGuidance[problemType]
	if !ok {
		guidance = fallbackGuidance[models.OtherProblem]
	}
	return models.Verdict{
		IsValid:     false,
		Explanation: fallbackPrefix + "Manual review required. " + guidance,
		Severity:    "unknown",
		Category:    string(problemType),
	}
}

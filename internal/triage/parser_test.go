package triage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const structuredNeeded = `{
  "analysis": {"isValid": true, "severity": "high", "category": "verb_form"},
  "explanation": {"summary": "The answer uses the wrong tense.", "details": "After 'se' the imperfect subjunctive is required.", "impact": "Learners are taught an ungrammatical form."},
  "correction": {"needed": true, "sqlStatement": "UPDATE exercises SET correct_answer = 'fosse' WHERE id = '11111111-1111-1111-1111-111111111111';", "changes": ["correct_answer: era -> fosse"], "reasoning": "Conditional clause."}
}`

func TestParseResponse_Structured(t *testing.T) {
	v, stage := ParseResponse(structuredNeeded)

	assert.Equal(t, StageStructured, stage)
	assert.True(t, v.IsValid)
	assert.Equal(t, "UPDATE exercises SET correct_answer = 'fosse' WHERE id = '11111111-1111-1111-1111-111111111111';", v.SQLCorrection)
	assert.Equal(t, "high", v.Severity)
	assert.Equal(t, "verb_form", v.Category)
	assert.Equal(t, []string{"correct_answer: era -> fosse"}, []string(v.Changes))
	assert.Equal(t, "Conditional clause.", v.Reasoning)

	assert.Contains(t, v.Explanation, "The answer uses the wrong tense.")
	assert.Contains(t, v.Explanation, "Severity: high | Category: verb_form")
	assert.Contains(t, v.Explanation, "Impact: Learners are taught")
	assert.Contains(t, v.Explanation, "Proposed changes: correct_answer: era -> fosse")
	assert.NotContains(t, v.Explanation, NoActionSentence)
}

func TestParseResponse_StructuredNotNeeded(t *testing.T) {
	raw := `{"analysis":{"isValid":false,"severity":"low","category":"none"},
		"explanation":{"summary":"The exercise is correct.","details":"","impact":"None."},
		"correction":{"needed":false,"sqlStatement":"UPDATE exercises SET hint = 'x' WHERE id = '11111111-1111-1111-1111-111111111111';","changes":"nothing","reasoning":""}}`

	v, stage := ParseResponse(raw)

	assert.Equal(t, StageStructured, stage)
	assert.False(t, v.IsValid)
	assert.Empty(t, v.SQLCorrection)
	assert.False(t, v.HasCorrection())
	assert.True(t, strings.HasSuffix(v.Explanation, NoActionSentence))
}

func TestParseResponse_CodeFencesAndProse(t *testing.T) {
	fenced := "```json\n" + structuredNeeded + "\n```"
	v, stage := ParseResponse(fenced)
	assert.Equal(t, StageStructured, stage)
	assert.True(t, v.HasCorrection())

	wrapped := "Here is my analysis:\n" + structuredNeeded + "\nLet me know if you need more."
	v, stage = ParseResponse(wrapped)
	assert.Equal(t, StageStructured, stage)
	assert.True(t, v.HasCorrection())
}

func TestParseResponse_Legacy(t *testing.T) {
	cases := map[string]string{
		"camel": `{"isValid": true, "explanation": "Typo in hint.", "sqlCorrection": "UPDATE exercises SET hint = 'ser' WHERE id = '11111111-1111-1111-1111-111111111111';"}`,
		"snake": `{"is_valid": true, "explanation": "Typo in hint.", "sql_correction": "UPDATE exercises SET hint = 'ser' WHERE id = '11111111-1111-1111-1111-111111111111';"}`,
		"string bool": `{"isValid": "true", "explanation": "Typo in hint.", "sqlCorrection": "UPDATE exercises SET hint = 'ser' WHERE id = '11111111-1111-1111-1111-111111111111';"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			v, stage := ParseResponse(raw)
			assert.Equal(t, StageLegacy, stage)
			assert.True(t, v.IsValid)
			assert.Equal(t, "Typo in hint.", v.Explanation)
			assert.Equal(t, "UPDATE exercises SET hint = 'ser' WHERE id = '11111111-1111-1111-1111-111111111111';", v.SQLCorrection)
		})
	}
}

func TestParseResponse_LegacyNullCorrection(t *testing.T) {
	v, stage := ParseResponse(`{"isValid": false, "explanation": "Fine as is.", "sqlCorrection": null}`)
	assert.Equal(t, StageLegacy, stage)
	assert.False(t, v.IsValid)
	assert.Empty(t, v.SQLCorrection)
}

func TestParseResponse_Heuristic(t *testing.T) {
	t.Run("explicit true marker", func(t *testing.T) {
		v, stage := ParseResponse(`{"isValid": true, "explanation": "truncated respo`)
		assert.Equal(t, StageHeuristic, stage)
		assert.True(t, v.IsValid)
	})

	t.Run("explicit false marker wins over the word valid", func(t *testing.T) {
		v, _ := ParseResponse(`is_valid: false. The complaint looks valid at first sight but is not.`)
		assert.False(t, v.IsValid)
	})

	t.Run("plain valid", func(t *testing.T) {
		v, _ := ParseResponse("The report is valid, the hint is misleading.")
		assert.True(t, v.IsValid)
	})

	t.Run("not valid", func(t *testing.T) {
		v, _ := ParseResponse("The report is not valid.")
		assert.False(t, v.IsValid)
	})

	t.Run("invalid does not count as valid", func(t *testing.T) {
		v, _ := ParseResponse("This complaint is invalid.")
		assert.False(t, v.IsValid)
	})

	t.Run("extracts correction", func(t *testing.T) {
		raw := "Valid report. Suggested fix:\nUPDATE exercises SET hint = 'ser'\nWHERE id = '11111111-1111-1111-1111-111111111111';\nThanks."
		v, _ := ParseResponse(raw)
		assert.Equal(t, "UPDATE exercises SET hint = 'ser'\nWHERE id = '11111111-1111-1111-1111-111111111111';", v.SQLCorrection)
	})

	t.Run("truncates explanation", func(t *testing.T) {
		raw := strings.Repeat("é", 600)
		v, _ := ParseResponse(raw)
		assert.Equal(t, strings.Repeat("é", 500)+"...", v.Explanation)
		assert.Empty(t, v.SQLCorrection)
	})
}

func TestParseResponse_NeverFails(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"{",
		"}{",
		"null",
		"[]",
		`"just a string"`,
		"```",
		"```json\n```",
		`{"analysis": 1, "explanation": 2, "correction": 3}`,
		`{"unrelated": true}`,
		string([]byte{0xff, 0xfe, 0x00}),
	}
	for _, in := range inputs {
		require.NotPanics(t, func() {
			v, stage := ParseResponse(in)
			assert.NotEmpty(t, stage)
			assert.Empty(t, v.SQLCorrection, "input %q", in)
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripCodeFences(`  {"a":1}  `))
}

package triage

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"tudobem/internal/models"
)

// ParseStage names the strategy that produced a verdict
type ParseStage string

const (
	StageStructured ParseStage = "structured"
	StageLegacy     ParseStage = "legacy"
	StageHeuristic  ParseStage = "heuristic"
)

// NoActionSentence closes explanations of verdicts that need no correction
const NoActionSentence = "No action required: the exercise can stay as it is."

const heuristicExplanationLimit = 500

var (
	correctionPattern = regexp.MustCompile(`(?is)UPDATE\s+exercises\s+SET\s+.+?\s+WHERE\s+.+?;`)
	validWord         = regexp.MustCompile(`(?i)\bvalid\b`)
	notValidPhrase    = regexp.MustCompile(`(?i)\bnot\s+valid\b`)
	markerStripper    = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "", `"`, "", "'", "")
)

type structuredReply struct {
	Analysis struct {
		IsValid  bool   `json:"isValid"`
		Severity string `json:"severity"`
		Category string `json:"category"`
	} `json:"analysis"`
	Explanation struct {
		Summary string `json:"summary"`
		Details string `json:"details"`
		Impact  string `json:"impact"`
	} `json:"explanation"`
	Correction struct {
		Needed       bool               `json:"needed"`
		SQLStatement string             `json:"sqlStatement"`
		Changes      models.FlexStrings `json:"changes"`
		Reasoning    string             `json:"reasoning"`
	} `json:"correction"`
}

// ParseResponse turns a raw model reply into a verdict. It never fails:
// structured JSON is tried first, then the legacy flat shape, then text
// heuristics.
func ParseResponse(raw string) (verdict models.Verdict, stage ParseStage) {
	defer func() {
		if r := recover(); r != nil {
			verdict, stage = heuristicVerdict(""), StageHeuristic
		}
	}()

	for _, candidate := range jsonCandidates(raw) {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &fields); err != nil {
			continue
		}
		if v, ok := parseStructured(candidate, fields); ok {
			return v, StageStructured
		}
		if v, ok := parseLegacy(fields); ok {
			return v, StageLegacy
		}
	}
	return heuristicVerdict(raw), StageHeuristic
}

// jsonCandidates yields the raw text, the text without code fences and the
// outermost brace span, skipping duplicates
func jsonCandidates(raw string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	add(raw)
	stripped := StripCodeFences(raw)
	add(stripped)
	if start, end := strings.Index(stripped, "{"), strings.LastIndex(stripped, "}"); start >= 0 && end > start {
		add(stripped[start : end+1])
	}
	return out
}

// StripCodeFences removes a surrounding markdown code block if present
func StripCodeFences(s string) string {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```JSON")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

func parseStructured(candidate string, fields map[string]json.RawMessage) (models.Verdict, bool) {
	for _, k := range []string{"analysis", "explanation", "correction"} {
		if _, ok := fields[k]; !ok {
			return models.Verdict{}, false
		}
	}
	var reply structuredReply
	if err := json.Unmarshal([]byte(candidate), &reply); err != nil {
		return models.Verdict{}, false
	}

	v := models.Verdict{
		IsValid:     reply.Analysis.IsValid,
		Severity:    reply.Analysis.Severity,
		Category:    reply.Analysis.Category,
		Explanation: synthesizeExplanation(&reply),
	}
	if reply.Correction.Needed {
		v.SQLCorrection = strings.TrimSpace(reply.Correction.SQLStatement)
		v.Changes = reply.Correction.Changes
		v.Reasoning = reply.Correction.Reasoning
	}
	return v, true
}

func synthesizeExplanation(r *structuredReply) string {
	var parts []string
	if s := strings.TrimSpace(r.Explanation.Summary); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.Explanation.Details); s != "" {
		parts = append(parts, s)
	}
	if r.Analysis.Severity != "" || r.Analysis.Category != "" {
		parts = append(parts, "Severity: "+orNone(r.Analysis.Severity)+" | Category: "+orNone(r.Analysis.Category))
	}
	if s := strings.TrimSpace(r.Explanation.Impact); s != "" {
		parts = append(parts, "Impact: "+s)
	}

	if r.Correction.Needed {
		if len(r.Correction.Changes) > 0 {
			parts = append(parts, "Proposed changes: "+r.Correction.Changes.String())
		}
		if s := strings.TrimSpace(r.Correction.Reasoning); s != "" {
			parts = append(parts, "Reasoning: "+s)
		}
	} else {
		parts = append(parts, NoActionSentence)
	}
	return strings.Join(parts, "\n\n")
}

func parseLegacy(fields map[string]json.RawMessage) (models.Verdict, bool) {
	validRaw, hasValid := firstField(fields, "isValid", "is_valid")
	explRaw, hasExpl := fields["explanation"]
	sqlRaw, hasSQL := firstField(fields, "sqlCorrection", "sql_correction")
	if !hasValid && !hasExpl && !hasSQL {
		return models.Verdict{}, false
	}

	var v models.Verdict
	if hasValid {
		v.IsValid = looseBool(validRaw)
	}
	if hasExpl {
		v.Explanation = looseString(explRaw)
	}
	if hasSQL {
		v.SQLCorrection = strings.TrimSpace(looseString(sqlRaw))
	}
	if raw, ok := fields["severity"]; ok {
		v.Severity = looseString(raw)
	}
	if raw, ok := fields["category"]; ok {
		v.Category = looseString(raw)
	}
	if raw, ok := fields["changes"]; ok {
		_ = json.Unmarshal(raw, &v.Changes)
	}
	if raw, ok := fields["reasoning"]; ok {
		v.Reasoning = looseString(raw)
	}
	return v, true
}

func firstField(fields map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if raw, ok := fields[k]; ok {
			return raw, true
		}
	}
	return nil, false
}

func looseBool(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return false
}

func looseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// heuristicVerdict reads validity markers and a correction statement out of
// free text
func heuristicVerdict(raw string) models.Verdict {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.Verdict{Explanation: "The model returned an empty response."}
	}

	compact := strings.ToLower(markerStripper.Replace(text))
	var valid bool
	switch {
	case strings.Contains(compact, "isvalid:false") || strings.Contains(compact, "is_valid:false"):
		valid = false
	case strings.Contains(compact, "isvalid:true") || strings.Contains(compact, "is_valid:true"):
		valid = true
	default:
		valid = validWord.MatchString(text) && !notValidPhrase.MatchString(text)
	}

	return models.Verdict{
		IsValid:       valid,
		Explanation:   truncate(text, heuristicExplanationLimit),
		SQLCorrection: correctionPattern.FindString(text),
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

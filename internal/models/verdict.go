package models

import (
	"encoding/json"
	"strings"
)

// Verdict is the triage judgment produced for a problem report
type Verdict struct {
	IsValid       bool        `json:"is_valid"`
	Explanation   string      `json:"explanation"`
	SQLCorrection string      `json:"sql_correction,omitempty"`
	Severity      string      `json:"severity,omitempty"`
	Category      string      `json:"category,omitempty"`
	Changes       FlexStrings `json:"changes,omitempty"`
	Reasoning     string      `json:"reasoning,omitempty"`
}

// HasCorrection reports whether the verdict proposes a database mutation
func (v *Verdict) HasCorrection() bool {
	return v != nil && strings.TrimSpace(v.SQLCorrection) != ""
}

// FlexStrings accepts either a JSON string or a JSON array of strings.
// Models are inconsistent about the shape of "changes".
type FlexStrings []string

func (f *FlexStrings) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			*f = nil
		} else {
			*f = FlexStrings{s}
		}
		return nil
	}
	// Mixed arrays: keep whatever renders as text
	var mixed []any
	if err := json.Unmarshal(b, &mixed); err == nil {
		out := make(FlexStrings, 0, len(mixed))
		for _, v := range mixed {
			switch x := v.(type) {
			case string:
				out = append(out, x)
			case nil:
			default:
				if raw, err := json.Marshal(x); err == nil {
					out = append(out, string(raw))
				}
			}
		}
		*f = out
		return nil
	}
	*f = nil
	return nil
}

// String joins the changes into a single human readable line
func (f FlexStrings) String() string {
	return strings.Join(f, "; ")
}

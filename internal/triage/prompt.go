package triage

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tudobem/internal/sqlgate"
)

//go:embed prompts/*.txt
var embeddedPrompts embed.FS

// TriageTemplate is the name of the system prompt used for first turns.
// It doubles as the PromptCache key.
const TriageTemplate = "problem_report_triage"

const allowedColumnsPlaceholder = "{{ALLOWED_COLUMNS}}"

// PromptLoader reads system prompts. A file <dir>/<name>.txt overrides the
// built-in copy so prompts can be tuned without a rebuild.
type PromptLoader struct {
	dir string
}

func NewPromptLoader(dir string) *PromptLoader {
	return &PromptLoader{dir: dir}
}

// Load returns the named prompt with placeholders filled in
func (l *PromptLoader) Load(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("prompt name is empty")
	}

	var text string
	if l.dir != "" {
		p := filepath.Join(l.dir, name+".txt")
		if b, err := os.ReadFile(p); err == nil && len(strings.TrimSpace(string(b))) > 0 {
			text = string(b)
		}
	}
	if text == "" {
		b, err := embeddedPrompts.ReadFile("prompts/" + name + ".txt")
		if err != nil {
			return "", fmt.Errorf("prompt %q not found: %w", name, err)
		}
		text = string(b)
	}

	text = strings.ReplaceAll(text, allowedColumnsPlaceholder, strings.Join(sqlgate.AllowedColumns(), ", "))
	return strings.TrimSpace(text), nil
}

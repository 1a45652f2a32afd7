package models

// ExerciseSnapshot is the read-only view of an exercise the triage pipeline
// reasons over. It is owned by the exercise store.
type ExerciseSnapshot struct {
	ID                    string   `json:"id" db:"id"`
	Sentence              string   `json:"sentence" db:"sentence"`
	CorrectAnswer         string   `json:"correct_answer" db:"correct_answer"`
	Hint                  string   `json:"hint,omitempty" db:"hint"`
	MultipleChoiceOptions []string `json:"multiple_choice_options,omitempty" db:"-"`
	Level                 string   `json:"level" db:"level"`
	Topic                 string   `json:"topic" db:"topic"`
	Explanation           string   `json:"explanation,omitempty" db:"explanation"`
}

// HasHint reports whether the exercise carries a non-empty hint
func (e *ExerciseSnapshot) HasHint() bool {
	return e != nil && e.Hint != ""
}

// HasOptions reports whether the exercise is a multiple choice one
func (e *ExerciseSnapshot) HasOptions() bool {
	return e != nil && len(e.MultipleChoiceOptions) > 0
}

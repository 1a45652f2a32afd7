// Package sqlgate decides whether a proposed SQL correction may ever reach
// the database. The check is pure: it parses the statement text and never
// touches a connection.
//
// Accepted shape, and nothing else:
//
//	UPDATE exercises SET <col> = <literal>[, ...] WHERE id = '<uuid>' [;]
//
// Assignments are split on commas outside quoted literals and brackets, so
// values such as '["a, b", "c"]' for the options column are handled.
package sqlgate

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// TargetTable is the only table a correction may touch
const TargetTable = "exercises"

// allowedColumns are content and explanation columns. Identity, level/topic
// classification, audit and usage counters are never writable.
var allowedColumns = map[string]bool{
	"sentence":                true,
	"correct_answer":          true,
	"hint":                    true,
	"multiple_choice_options": true,
	"explanation":             true,
}

// AllowedColumns lists the writable columns in stable order
func AllowedColumns() []string {
	cols := make([]string, 0, len(allowedColumns))
	for c := range allowedColumns {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Reason is the machine readable cause of a rejection
type Reason string

const (
	ReasonEmpty              Reason = "empty_statement"
	ReasonComment            Reason = "comment_not_allowed"
	ReasonUnterminated       Reason = "unterminated_literal"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonNotUpdate          Reason = "not_single_table_update"
	ReasonWrongTable         Reason = "wrong_table"
	ReasonMissingWhere       Reason = "missing_where"
	ReasonInvalidWhere       Reason = "where_not_single_id"
	ReasonInvalidID          Reason = "invalid_id"
	ReasonMalformedSet       Reason = "malformed_assignment"
	ReasonUnsafeValue        Reason = "unsafe_value"
	ReasonDisallowedColumns  Reason = "disallowed_columns"
	ReasonExerciseMismatch   Reason = "exercise_mismatch"
)

// ErrRejected is wrapped by every Rejection
var ErrRejected = errors.New("sql correction rejected")

// Rejection explains why a statement was refused
type Rejection struct {
	Reason  Reason
	Message string
	Columns []string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func (r *Rejection) Unwrap() error { return ErrRejected }

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Statement is an accepted correction
type Statement struct {
	SQL        string // trimmed, without the trailing semicolon
	Table      string
	ExerciseID string
	Columns    []string
}

var (
	updateHead  = regexp.MustCompile(`(?is)^update\s+"?([a-z_][a-z0-9_]*)"?\s+set\s+`)
	wherePred   = regexp.MustCompile(`(?is)^"?id"?\s*=\s*'([^']*)'$`)
	assignment  = regexp.MustCompile(`(?s)^\s*"?([A-Za-z_][A-Za-z0-9_]*)"?\s*=\s*(.+?)\s*$`)
	quotedValue = regexp.MustCompile(`(?s)^'(?:[^']|'')*'(?:::[a-z]+(?:\[\])?)?$`)
	numberValue = regexp.MustCompile(`^-?[0-9]+(?:\.[0-9]+)?$`)
)

// Validate accepts or rejects stmt. On rejection the error is a *Rejection.
func Validate(stmt string) (*Statement, error) {
	sql := strings.TrimSpace(stmt)
	if sql == "" {
		return nil, reject(ReasonEmpty, "no statement given")
	}

	segments, err := scan(sql)
	if err != nil {
		return nil, err
	}
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if segments > 1 {
		return nil, reject(ReasonMultipleStatements, "only one statement is allowed")
	}

	head := updateHead.FindStringSubmatchIndex(sql)
	if head == nil {
		return nil, reject(ReasonNotUpdate, "statement must be UPDATE %s SET ... WHERE id = '<uuid>'", TargetTable)
	}
	table := strings.ToLower(sql[head[2]:head[3]])
	if table != TargetTable {
		return nil, reject(ReasonWrongTable, "table %q is not writable, only %q", table, TargetTable)
	}
	rest := sql[head[1]:]

	wheres := keywordPositions(rest, "where")
	switch {
	case len(wheres) == 0:
		return nil, reject(ReasonMissingWhere, "statement has no WHERE id = '<uuid>' clause")
	case len(wheres) > 1:
		return nil, reject(ReasonInvalidWhere, "more than one WHERE clause")
	}
	setClause := strings.TrimSpace(rest[:wheres[0]])
	whereClause := strings.TrimSpace(rest[wheres[0]+len("where"):])

	m := wherePred.FindStringSubmatch(whereClause)
	if m == nil {
		return nil, reject(ReasonInvalidWhere, "WHERE must be exactly id = '<uuid>', got %q", whereClause)
	}
	id, err := uuid.Parse(m[1])
	if err != nil || len(m[1]) != 36 {
		return nil, reject(ReasonInvalidID, "%q is not a uuid", m[1])
	}

	columns, err := assignedColumns(setClause)
	if err != nil {
		return nil, err
	}

	var bad []string
	for _, c := range columns {
		if !allowedColumns[c] {
			bad = append(bad, c)
		}
	}
	if len(bad) > 0 {
		r := reject(ReasonDisallowedColumns, "columns not allowed: %s (allowed: %s)",
			strings.Join(bad, ", "), strings.Join(AllowedColumns(), ", "))
		r.Columns = bad
		return nil, r
	}

	return &Statement{
		SQL:        sql,
		Table:      table,
		ExerciseID: id.String(),
		Columns:    columns,
	}, nil
}

// assignedColumns splits the SET clause and returns lower-cased column names
func assignedColumns(setClause string) ([]string, error) {
	if setClause == "" {
		return nil, reject(ReasonMalformedSet, "SET clause is empty")
	}
	var columns []string
	for _, part := range splitTopLevel(setClause, ',') {
		m := assignment.FindStringSubmatch(part)
		if m == nil {
			return nil, reject(ReasonMalformedSet, "cannot read assignment %q", strings.TrimSpace(part))
		}
		value := strings.TrimSpace(m[2])
		if !quotedValue.MatchString(value) && !numberValue.MatchString(value) && !strings.EqualFold(value, "null") {
			return nil, reject(ReasonUnsafeValue, "value for %s must be a literal, got %q", m[1], value)
		}
		columns = append(columns, strings.ToLower(m[1]))
	}
	return columns, nil
}

// scan walks sql once, rejecting comments and unterminated literals, and
// counts statements separated by semicolons outside quotes. A single
// trailing semicolon does not start a new statement.
func scan(sql string) (int, error) {
	segments := 1
	var quote byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if quote != 0 {
			if ch == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch {
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-',
			ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			return 0, reject(ReasonComment, "SQL comments are not allowed")
		case ch == ';':
			if strings.TrimSpace(sql[i+1:]) != "" {
				segments++
			}
		}
	}
	if quote != 0 {
		return 0, reject(ReasonUnterminated, "unterminated quoted literal")
	}
	return segments, nil
}

// splitTopLevel splits s on sep when outside quotes, parentheses and brackets
func splitTopLevel(s string, sep byte) []string {
	var (
		parts []string
		quote byte
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				if i+1 < len(s) && s[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// keywordPositions finds case-insensitive whole-word occurrences of kw
// outside quoted literals
func keywordPositions(s, kw string) []int {
	var (
		out   []int
		quote byte
	)
	lower := strings.ToLower(s)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				if i+1 < len(s) && s[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		if ch == '\'' || ch == '"' {
			quote = ch
			continue
		}
		if strings.HasPrefix(lower[i:], kw) && isBoundary(s, i-1) && isBoundary(s, i+len(kw)) {
			out = append(out, i)
			i += len(kw) - 1
		}
	}
	return out
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
}

// CheckTarget rejects an accepted statement that corrects a different
// exercise than the one the report is about. Pattern cache hits can carry a
// correction written for another exercise.
func CheckTarget(stmt *Statement, exerciseID string) error {
	if stmt == nil {
		return reject(ReasonEmpty, "no statement given")
	}
	if !strings.EqualFold(stmt.ExerciseID, exerciseID) {
		return reject(ReasonExerciseMismatch, "statement targets exercise %s, report is about %s", stmt.ExerciseID, exerciseID)
	}
	return nil
}

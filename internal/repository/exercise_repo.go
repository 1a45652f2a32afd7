package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"tudobem/internal/models"
)

// ExerciseRepository reads exercises and applies gate-approved corrections
type ExerciseRepository struct {
	db          *sqlx.DB
	execTimeout time.Duration
	logger      *zap.Logger
}

func NewExerciseRepository(db *sqlx.DB, execTimeout time.Duration, logger *zap.Logger) *ExerciseRepository {
	if execTimeout <= 0 {
		execTimeout = DefaultRawTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExerciseRepository{db: db, execTimeout: execTimeout, logger: logger}
}

type exerciseRow struct {
	ID            string         `db:"id"`
	Sentence      string         `db:"sentence"`
	CorrectAnswer string         `db:"correct_answer"`
	Hint          sql.NullString `db:"hint"`
	Options       sql.NullString `db:"multiple_choice_options"`
	Level         string         `db:"level"`
	Topic         string         `db:"topic"`
	Explanation   sql.NullString `db:"explanation"`
}

func (r *ExerciseRepository) GetByID(ctx context.Context, id string) (*models.ExerciseSnapshot, error) {
	var row exerciseRow
	query := r.db.Rebind(`SELECT id, sentence, correct_answer, hint, multiple_choice_options, level, topic, explanation
		FROM exercises WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get exercise %s: %w", id, err)
	}

	ex := &models.ExerciseSnapshot{
		ID:            row.ID,
		Sentence:      row.Sentence,
		CorrectAnswer: row.CorrectAnswer,
		Hint:          row.Hint.String,
		Level:         row.Level,
		Topic:         row.Topic,
		Explanation:   row.Explanation.String,
	}
	if row.Options.Valid && row.Options.String != "" {
		if err := json.Unmarshal([]byte(row.Options.String), &ex.MultipleChoiceOptions); err != nil {
			r.logger.Warn("Exercise options are not a JSON array",
				zap.String("exercise_id", id),
				zap.Error(err))
		}
	}
	return ex, nil
}

// Create inserts an exercise. Used by seeding and tests.
func (r *ExerciseRepository) Create(ctx context.Context, ex *models.ExerciseSnapshot) error {
	var options sql.NullString
	if len(ex.MultipleChoiceOptions) > 0 {
		b, err := json.Marshal(ex.MultipleChoiceOptions)
		if err != nil {
			return err
		}
		options = sql.NullString{String: string(b), Valid: true}
	}

	query := r.db.Rebind(`INSERT INTO exercises
		(id, sentence, correct_answer, hint, multiple_choice_options, level, topic, explanation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		ex.ID, ex.Sentence, ex.CorrectAnswer, nullable(ex.Hint), options,
		ex.Level, ex.Topic, nullable(ex.Explanation))
	if err != nil {
		return fmt.Errorf("failed to insert exercise: %w", err)
	}
	return nil
}

// ExecMutation runs an already validated UPDATE verbatim under the
// execution timeout. A statement that matches no row is an error.
func (r *ExerciseRepository) ExecMutation(ctx context.Context, statement string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.execTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, statement)
	if err != nil {
		return 0, fmt.Errorf("mutation failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mutation result unavailable: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("mutation matched no exercise: %w", ErrNotFound)
	}

	r.logger.Info("Exercise correction applied", zap.Int64("rows", n))
	return n, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

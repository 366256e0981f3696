// Package postgres provides a PostgreSQL-backed [results.Store] using a pgx
// connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
)

var _ results.Store = (*Store)(nil)

// Store persists reading results in the reading_results table.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveResult implements [results.Store]. Existing rows are overwritten; the
// stored quiz survives when r has none.
func (s *Store) SaveResult(ctx context.Context, r results.ReadingResult) error {
	if err := results.Validate(r); err != nil {
		return err
	}
	words, accuracy, quizJSON, err := encodeColumns(r)
	if err != nil {
		return fmt.Errorf("postgres store: save result: %w", err)
	}

	const q = `
		INSERT INTO reading_results
		    (session_id, connection_id, language, passage_words, accuracy,
		     words_per_minute, started_at, completed_at, quiz)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
		    connection_id    = EXCLUDED.connection_id,
		    language         = EXCLUDED.language,
		    passage_words    = EXCLUDED.passage_words,
		    accuracy         = EXCLUDED.accuracy,
		    words_per_minute = EXCLUDED.words_per_minute,
		    started_at       = EXCLUDED.started_at,
		    completed_at     = EXCLUDED.completed_at,
		    quiz             = COALESCE(EXCLUDED.quiz, reading_results.quiz)`

	_, err = s.pool.Exec(ctx, q,
		r.SessionID,
		r.ConnectionID,
		r.Language,
		words,
		accuracy,
		r.WordsPerMinute,
		r.StartedAt,
		r.CompletedAt,
		quizJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save result: %w", err)
	}
	return nil
}

// AttachQuiz implements [results.Store].
func (s *Store) AttachQuiz(ctx context.Context, sessionID string, questions []quiz.Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("postgres store: attach quiz: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE reading_results SET quiz = $2 WHERE session_id = $1`,
		sessionID, data)
	if err != nil {
		return fmt.Errorf("postgres store: attach quiz: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return results.ErrNotFound
	}
	return nil
}

// Get implements [results.Store].
func (s *Store) Get(ctx context.Context, sessionID string) (results.ReadingResult, error) {
	const q = `
		SELECT session_id, connection_id, language, passage_words, accuracy,
		       words_per_minute, started_at, completed_at, quiz
		FROM   reading_results
		WHERE  session_id = $1`

	var (
		r                        results.ReadingResult
		words, accuracy, quizRaw []byte
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&r.SessionID,
		&r.ConnectionID,
		&r.Language,
		&words,
		&accuracy,
		&r.WordsPerMinute,
		&r.StartedAt,
		&r.CompletedAt,
		&quizRaw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return results.ReadingResult{}, results.ErrNotFound
	}
	if err != nil {
		return results.ReadingResult{}, fmt.Errorf("postgres store: get: %w", err)
	}
	if err := decodeColumns(&r, words, accuracy, quizRaw); err != nil {
		return results.ReadingResult{}, fmt.Errorf("postgres store: get: %w", err)
	}
	return r, nil
}

// Ping implements [results.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// encodeColumns marshals the JSONB columns of r. quizJSON is nil when r
// carries no quiz so the column stays NULL.
func encodeColumns(r results.ReadingResult) (words, accuracy []byte, quizJSON any, err error) {
	passage := r.PassageWords
	if passage == nil {
		passage = []string{}
	}
	if words, err = json.Marshal(passage); err != nil {
		return nil, nil, nil, err
	}
	if accuracy, err = json.Marshal(r.Accuracy); err != nil {
		return nil, nil, nil, err
	}
	if r.Quiz != nil {
		data, err := json.Marshal(r.Quiz)
		if err != nil {
			return nil, nil, nil, err
		}
		quizJSON = data
	}
	return words, accuracy, quizJSON, nil
}

func decodeColumns(r *results.ReadingResult, words, accuracy, quizRaw []byte) error {
	if err := json.Unmarshal(words, &r.PassageWords); err != nil {
		return fmt.Errorf("decode passage words: %w", err)
	}
	if err := json.Unmarshal(accuracy, &r.Accuracy); err != nil {
		return fmt.Errorf("decode accuracy: %w", err)
	}
	if len(quizRaw) > 0 {
		if err := json.Unmarshal(quizRaw, &r.Quiz); err != nil {
			return fmt.Errorf("decode quiz: %w", err)
		}
	}
	return nil
}

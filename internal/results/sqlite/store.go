// Package sqlite provides a file-backed [results.Store] on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/readalong/internal/quiz"
	"github.com/MrWong99/readalong/internal/results"
)

var _ results.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS reading_results (
    session_id       TEXT PRIMARY KEY,
    connection_id    TEXT NOT NULL DEFAULT '',
    language         TEXT NOT NULL DEFAULT '',
    passage_words    TEXT NOT NULL DEFAULT '[]',
    accuracy         TEXT NOT NULL DEFAULT '{}',
    words_per_minute REAL NOT NULL DEFAULT 0,
    started_at       TEXT NOT NULL,
    completed_at     TEXT NOT NULL,
    quiz             TEXT
);
CREATE INDEX IF NOT EXISTS idx_reading_results_completed ON reading_results(completed_at);
`

// Store persists reading results in a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open creates the parent directory of path if needed, opens the database in
// WAL mode and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path must not be empty")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveResult implements [results.Store].
func (s *Store) SaveResult(ctx context.Context, r results.ReadingResult) error {
	if err := results.Validate(r); err != nil {
		return err
	}
	passage := r.PassageWords
	if passage == nil {
		passage = []string{}
	}
	words, err := json.Marshal(passage)
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	accuracy, err := json.Marshal(r.Accuracy)
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	var quizJSON sql.NullString
	if r.Quiz != nil {
		data, err := json.Marshal(r.Quiz)
		if err != nil {
			return fmt.Errorf("sqlite store: save result: %w", err)
		}
		quizJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reading_results(session_id, connection_id, language, passage_words, accuracy,
		     words_per_minute, started_at, completed_at, quiz)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		     connection_id=excluded.connection_id,
		     language=excluded.language,
		     passage_words=excluded.passage_words,
		     accuracy=excluded.accuracy,
		     words_per_minute=excluded.words_per_minute,
		     started_at=excluded.started_at,
		     completed_at=excluded.completed_at,
		     quiz=COALESCE(excluded.quiz, reading_results.quiz)`,
		r.SessionID, r.ConnectionID, r.Language, string(words), string(accuracy),
		r.WordsPerMinute, formatTime(r.StartedAt), formatTime(r.CompletedAt), quizJSON)
	if err != nil {
		return fmt.Errorf("sqlite store: save result: %w", err)
	}
	return nil
}

// AttachQuiz implements [results.Store].
func (s *Store) AttachQuiz(ctx context.Context, sessionID string, questions []quiz.Question) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("sqlite store: attach quiz: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reading_results SET quiz = ? WHERE session_id = ?`, string(data), sessionID)
	if err != nil {
		return fmt.Errorf("sqlite store: attach quiz: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: attach quiz: %w", err)
	}
	if n == 0 {
		return results.ErrNotFound
	}
	return nil
}

// Get implements [results.Store].
func (s *Store) Get(ctx context.Context, sessionID string) (results.ReadingResult, error) {
	var (
		r                  results.ReadingResult
		words, accuracy    string
		started, completed string
		quizJSON           sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, connection_id, language, passage_words, accuracy,
		        words_per_minute, started_at, completed_at, quiz
		 FROM reading_results WHERE session_id = ?`, sessionID).Scan(
		&r.SessionID, &r.ConnectionID, &r.Language, &words, &accuracy,
		&r.WordsPerMinute, &started, &completed, &quizJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return results.ReadingResult{}, results.ErrNotFound
	}
	if err != nil {
		return results.ReadingResult{}, fmt.Errorf("sqlite store: get: %w", err)
	}

	if err := json.Unmarshal([]byte(words), &r.PassageWords); err != nil {
		return results.ReadingResult{}, fmt.Errorf("sqlite store: decode passage words: %w", err)
	}
	if err := json.Unmarshal([]byte(accuracy), &r.Accuracy); err != nil {
		return results.ReadingResult{}, fmt.Errorf("sqlite store: decode accuracy: %w", err)
	}
	if quizJSON.Valid {
		if err := json.Unmarshal([]byte(quizJSON.String), &r.Quiz); err != nil {
			return results.ReadingResult{}, fmt.Errorf("sqlite store: decode quiz: %w", err)
		}
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return results.ReadingResult{}, fmt.Errorf("sqlite store: decode started_at: %w", err)
	}
	if r.CompletedAt, err = time.Parse(time.RFC3339Nano, completed); err != nil {
		return results.ReadingResult{}, fmt.Errorf("sqlite store: decode completed_at: %w", err)
	}
	return r, nil
}

// Prune deletes results completed before cutoff and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reading_results WHERE completed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sqlite store: prune: %w", err)
	}
	return res.RowsAffected()
}

// Ping implements [results.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [results.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

// formatTime stores timestamps as fixed-width UTC text so lexical order
// matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

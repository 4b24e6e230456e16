package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLiteStorage{
		db:   db,
		path: dbPath,
	}, nil
}

// Initialize creates the database schema.
func (s *SQLiteStorage) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		chat_mode TEXT NOT NULL DEFAULT 'survey',
		phase TEXT NOT NULL,
		panel_size INTEGER NOT NULL,
		total_rounds INTEGER NOT NULL DEFAULT 1,
		filters_json TEXT NOT NULL,
		models_json TEXT NOT NULL,
		panel_json TEXT NOT NULL,
		breakdown_json TEXT,
		summaries_json TEXT NOT NULL,
		analysis_json TEXT,
		error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		respondent_id INTEGER NOT NULL,
		agent_name TEXT NOT NULL,
		model TEXT NOT NULL,
		round INTEGER,
		answers_json TEXT NOT NULL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		position INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS debate_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		respondent_id INTEGER NOT NULL,
		agent_name TEXT NOT NULL,
		model TEXT NOT NULL,
		round INTEGER NOT NULL,
		text TEXT NOT NULL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		position INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_responses_key ON responses(session_id, respondent_id, model, COALESCE(round, 1));
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_key ON debate_messages(session_id, respondent_id, round);
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return string(data), nil
}

func marshalOptional[T any](v *T, what string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	str, err := marshalJSON(v, what)
	if err != nil {
		return nil, err
	}
	return &str, nil
}

// SaveSession inserts or replaces a session along with its results.
func (s *SQLiteStorage) SaveSession(sess *core.Session) error {
	filtersJSON, err := marshalJSON(sess.Filters, "filters")
	if err != nil {
		return err
	}
	modelsJSON, err := marshalJSON(sess.Models, "models")
	if err != nil {
		return err
	}
	panelJSON, err := marshalJSON(sess.Panel, "panel")
	if err != nil {
		return err
	}
	summariesJSON, err := marshalJSON(sess.RoundSummaries, "round summaries")
	if err != nil {
		return err
	}
	breakdownJSON, err := marshalOptional(sess.Breakdown, "breakdown")
	if err != nil {
		return err
	}
	analysisJSON, err := marshalOptional(sess.Analysis, "analysis")
	if err != nil {
		return err
	}

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO sessions (id, question, chat_mode, phase, panel_size, total_rounds, filters_json, models_json, panel_json, breakdown_json, summaries_json, analysis_json, error, created_at, updated_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		question = excluded.question,
		chat_mode = excluded.chat_mode,
		phase = excluded.phase,
		panel_size = excluded.panel_size,
		total_rounds = excluded.total_rounds,
		filters_json = excluded.filters_json,
		models_json = excluded.models_json,
		panel_json = excluded.panel_json,
		breakdown_json = excluded.breakdown_json,
		summaries_json = excluded.summaries_json,
		analysis_json = excluded.analysis_json,
		error = excluded.error,
		updated_at = excluded.updated_at,
		completed_at = excluded.completed_at
	`

	_, err = tx.Exec(query,
		sess.ID,
		sess.Question,
		sess.Mode,
		sess.Phase,
		sess.PanelSize,
		sess.TotalRounds,
		filtersJSON,
		modelsJSON,
		panelJSON,
		breakdownJSON,
		summariesJSON,
		analysisJSON,
		sess.Error,
		createdAt,
		time.Now(),
		sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM responses WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("failed to clear responses: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM debate_messages WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("failed to clear debate messages: %w", err)
	}

	for i, r := range sess.Responses {
		answersJSON, err := marshalJSON(r.Answers, "answers")
		if err != nil {
			return err
		}
		id := r.ID
		if id == "" {
			id = core.GenerateID()
		}
		in, out := tokens(r.TokenUsage)
		_, err = tx.Exec(`
		INSERT INTO responses (id, session_id, respondent_id, agent_name, model, round, answers_json, input_tokens, output_tokens, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, sess.ID, r.RespondentID, r.AgentName, r.Model, r.Round, answersJSON, in, out, i)
		if err != nil {
			return fmt.Errorf("failed to insert response: %w", err)
		}
	}

	for i, m := range sess.DebateMessages {
		in, out := tokens(m.TokenUsage)
		_, err = tx.Exec(`
		INSERT INTO debate_messages (id, session_id, respondent_id, agent_name, model, round, text, input_tokens, output_tokens, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, core.GenerateID(), sess.ID, m.RespondentID, m.AgentName, m.Model, m.Round, m.Text, in, out, i)
		if err != nil {
			return fmt.Errorf("failed to insert debate message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func tokens(u *core.TokenUsage) (*int, *int) {
	if u == nil {
		return nil, nil
	}
	return &u.InputTokens, &u.OutputTokens
}

func usage(in, out sql.NullInt64) *core.TokenUsage {
	if !in.Valid && !out.Valid {
		return nil
	}
	return &core.TokenUsage{InputTokens: int(in.Int64), OutputTokens: int(out.Int64)}
}

// GetSession retrieves a session with its results.
func (s *SQLiteStorage) GetSession(id string) (*core.Session, error) {
	query := `
	SELECT id, question, chat_mode, phase, panel_size, total_rounds, filters_json, models_json, panel_json, breakdown_json, summaries_json, analysis_json, error, created_at, completed_at
	FROM sessions
	WHERE id = ?
	`

	var sess core.Session
	var filtersJSON, modelsJSON, panelJSON, summariesJSON string
	var breakdownJSON, analysisJSON sql.NullString
	var completedAt sql.NullTime

	err := s.db.QueryRow(query, id).Scan(
		&sess.ID,
		&sess.Question,
		&sess.Mode,
		&sess.Phase,
		&sess.PanelSize,
		&sess.TotalRounds,
		&filtersJSON,
		&modelsJSON,
		&panelJSON,
		&breakdownJSON,
		&summariesJSON,
		&analysisJSON,
		&sess.Error,
		&sess.CreatedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal([]byte(filtersJSON), &sess.Filters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal filters: %w", err)
	}
	if err := json.Unmarshal([]byte(modelsJSON), &sess.Models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal models: %w", err)
	}
	if err := json.Unmarshal([]byte(panelJSON), &sess.Panel); err != nil {
		return nil, fmt.Errorf("failed to unmarshal panel: %w", err)
	}
	if err := json.Unmarshal([]byte(summariesJSON), &sess.RoundSummaries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round summaries: %w", err)
	}
	if breakdownJSON.Valid {
		var bd core.QuestionBreakdown
		if err := json.Unmarshal([]byte(breakdownJSON.String), &bd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
		sess.Breakdown = &bd
	}
	if analysisJSON.Valid {
		var a core.DebateAnalysis
		if err := json.Unmarshal([]byte(analysisJSON.String), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
		}
		sess.Analysis = &a
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}

	if sess.Responses, err = s.GetResponses(id); err != nil {
		return nil, err
	}
	if sess.DebateMessages, err = s.GetDebateMessages(id); err != nil {
		return nil, err
	}

	return &sess, nil
}

// DeleteSession deletes a session and its results.
func (s *SQLiteStorage) DeleteSession(id string) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListSessions returns session summaries, newest first.
func (s *SQLiteStorage) ListSessions(limit, offset int) ([]*core.SessionSummary, error) {
	query := `
	SELECT id, question, panel_size, chat_mode, phase, created_at
	FROM sessions
	ORDER BY created_at DESC
	LIMIT ? OFFSET ?
	`

	rows, err := s.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*core.SessionSummary
	for rows.Next() {
		var summary core.SessionSummary
		err := rows.Scan(
			&summary.ID,
			&summary.Question,
			&summary.PanelSize,
			&summary.Mode,
			&summary.Phase,
			&summary.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		summaries = append(summaries, &summary)
	}

	return summaries, rows.Err()
}

// GetResponses returns the survey responses of a session in arrival order.
func (s *SQLiteStorage) GetResponses(sessionID string) ([]core.Response, error) {
	query := `
	SELECT id, session_id, respondent_id, agent_name, model, round, answers_json, input_tokens, output_tokens
	FROM responses
	WHERE session_id = ?
	ORDER BY position ASC
	`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get responses: %w", err)
	}
	defer rows.Close()

	var responses []core.Response
	for rows.Next() {
		var r core.Response
		var round, in, out sql.NullInt64
		var answersJSON string
		err := rows.Scan(
			&r.ID,
			&r.SurveyID,
			&r.RespondentID,
			&r.AgentName,
			&r.Model,
			&round,
			&answersJSON,
			&in,
			&out,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &r.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
		if round.Valid {
			n := int(round.Int64)
			r.Round = &n
		}
		r.TokenUsage = usage(in, out)
		responses = append(responses, r)
	}

	return responses, rows.Err()
}

// GetDebateMessages returns the debate messages of a session in arrival order.
func (s *SQLiteStorage) GetDebateMessages(sessionID string) ([]core.DebateMessage, error) {
	query := `
	SELECT respondent_id, agent_name, model, round, text, input_tokens, output_tokens
	FROM debate_messages
	WHERE session_id = ?
	ORDER BY position ASC
	`

	rows, err := s.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get debate messages: %w", err)
	}
	defer rows.Close()

	var messages []core.DebateMessage
	for rows.Next() {
		var m core.DebateMessage
		var in, out sql.NullInt64
		err := rows.Scan(
			&m.RespondentID,
			&m.AgentName,
			&m.Model,
			&m.Round,
			&m.Text,
			&in,
			&out,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debate message: %w", err)
		}
		m.TokenUsage = usage(in, out)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "panel-chat.db"
	}
	return filepath.Join(home, ".panel-chat", "history.db")
}

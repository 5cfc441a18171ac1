package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/gad7-screener/internal/domain"
	"github.com/ashureev/gad7-screener/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes multi-statement writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return newSQLiteStore(dbPath)
}

func newSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		protocol_type TEXT NOT NULL DEFAULT 'GAD7',
		protocol_state TEXT,
		protocol_completed INTEGER NOT NULL DEFAULT 0,
		total_score INTEGER NOT NULL DEFAULT 0,
		severity_level TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, id);

	CREATE TABLE IF NOT EXISTS gad7_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		question_number INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		user_response TEXT NOT NULL,
		score INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gad7_responses_session ON gad7_responses(session_id, question_number);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLite conflict errors with exponential backoff.
func withRetry(ctx context.Context, op string, fn func() error) error {
	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite write conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	err := withRetry(ctx, "upsert_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (
			id, user_id, title, protocol_type, protocol_state,
			protocol_completed, total_score, severity_level, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := withRetry(ctx, "create_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.UserID, session.Title, session.ProtocolType,
			nullableText(string(session.ProtocolState)), session.Completed,
			session.TotalScore, nullableText(session.SeverityLevel),
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.id, s.user_id, s.title, s.protocol_type, s.protocol_state,
	s.protocol_completed, s.total_score, s.severity_level, s.created_at, s.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, extra ...any) (*domain.ChatSession, error) {
	var session domain.ChatSession
	var state, severity sql.NullString
	var createdAt, updatedAt int64

	dest := []any{
		&session.ID, &session.UserID, &session.Title, &session.ProtocolType, &state,
		&session.Completed, &session.TotalScore, &severity, &createdAt, &updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if state.Valid {
		session.ProtocolState = []byte(state.String)
	}
	session.SeverityLevel = severity.String
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// GetSession loads a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `SELECT` + sessionColumns + ` FROM chat_sessions s WHERE s.id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns a user's sessions with message counts.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	query := `SELECT` + sessionColumns + `,
		(SELECT COUNT(*) FROM chat_messages m WHERE m.session_id = s.id)
		FROM chat_sessions s
		WHERE s.user_id = ?
		ORDER BY s.updated_at DESC, s.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sessions rows", "error", closeErr)
		}
	}()

	var sessions []*domain.ChatSession
	for rows.Next() {
		var count int
		session, err := scanSession(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		session.MessageCount = count
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SaveState writes protocol progress for a session. Completion is sticky:
// once protocol_completed is set it is never cleared.
func (s *SQLiteStore) SaveState(ctx context.Context, sessionID string, update domain.StateUpdate) error {
	query := `
		UPDATE chat_sessions SET
			protocol_state = ?,
			total_score = ?,
			protocol_completed = MAX(protocol_completed, ?),
			severity_level = COALESCE(?, severity_level),
			updated_at = ?
		WHERE id = ?`

	var rows int64
	err := withRetry(ctx, "save_state", func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(update.ProtocolState), update.TotalScore, update.Completed,
			nullableText(update.SeverityLevel), time.Now().Unix(), sessionID,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("save protocol state: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("save protocol state: %w", ErrNotFound)
	}
	return nil
}

// UpdateTitle sets a session title.
func (s *SQLiteStore) UpdateTitle(ctx context.Context, sessionID, title string) error {
	query := `UPDATE chat_sessions SET title = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, title, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update title: %w", ErrNotFound)
	}
	return nil
}

// RenameIfDefault sets the title only while it is still a default title.
func (s *SQLiteStore) RenameIfDefault(ctx context.Context, sessionID, title string) (bool, error) {
	query := `UPDATE chat_sessions SET title = ? WHERE id = ? AND title IN (?, ?)`
	result, err := s.db.ExecContext(ctx, query, title, sessionID, domain.TitleNewChat, domain.TitleScreening)
	if err != nil {
		return false, fmt.Errorf("rename session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteSession removes a session with its messages and responses.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rows int64
	err := withRetry(ctx, "delete_session", func() error {
		var err error
		rows, err = s.deleteSessionsTx(ctx, `id = ?`, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete session: %w", ErrNotFound)
	}
	return nil
}

// DeleteSessionsBefore removes sessions not updated since cutoff.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rows int64
	err := withRetry(ctx, "delete_expired_sessions", func() error {
		var err error
		rows, err = s.deleteSessionsTx(ctx, `updated_at < ?`, cutoff.Unix())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return rows, nil
}

// deleteSessionsTx deletes the sessions matching where, children first.
func (s *SQLiteStore) deleteSessionsTx(ctx context.Context, where string, args ...any) (rows int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back session delete", "error", rbErr)
			}
		}
	}()

	selectIDs := `SELECT id FROM chat_sessions WHERE ` + where
	for _, child := range []string{"chat_messages", "gad7_responses"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+child+` WHERE session_id IN (`+selectIDs+`)`, args...); err != nil {
			return 0, fmt.Errorf("delete from %s: %w", child, err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	if rows, err = result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return rows, nil
}

// AppendMessages appends messages in a single transaction so that a user
// message and its reply are either both logged, in order, or neither is.
func (s *SQLiteStore) AppendMessages(ctx context.Context, msgs ...*domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := withRetry(ctx, "append_messages", func() error {
		return s.appendMessagesTx(ctx, msgs)
	})
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) appendMessagesTx(ctx context.Context, msgs []*domain.ChatMessage) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back message append", "error", rbErr)
			}
		}
	}()

	query := `INSERT INTO chat_messages (session_id, user_id, sender, message, created_at) VALUES (?, ?, ?, ?, ?)`
	for _, msg := range msgs {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now()
		}
		result, execErr := tx.ExecContext(ctx, query,
			msg.SessionID, msg.UserID, string(msg.Sender), msg.Message, msg.CreatedAt.Unix())
		if execErr != nil {
			return fmt.Errorf("insert message: %w", execErr)
		}
		if msg.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListMessages returns a session's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	query := `
		SELECT id, session_id, user_id, sender, message, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var msgs []*domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var sender string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.UserID, &sender, &msg.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Sender = domain.Sender(sender)
		msg.CreatedAt = time.Unix(createdAt, 0)
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// CountMessages returns the number of logged messages for a session.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// AppendResponse records a scored answer.
func (s *SQLiteStore) AppendResponse(ctx context.Context, resp *domain.ScoredResponse) error {
	query := `
		INSERT INTO gad7_responses (
			session_id, user_id, question_number, question_text, user_response, score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	err := withRetry(ctx, "append_response", func() error {
		result, err := s.db.ExecContext(ctx, query,
			resp.SessionID, resp.UserID, resp.QuestionNumber, resp.QuestionText,
			resp.UserResponse, resp.Score, resp.CreatedAt.Unix(),
		)
		if err != nil {
			return err
		}
		resp.ID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

// ListResponses returns a session's scored answers ordered by question.
func (s *SQLiteStore) ListResponses(ctx context.Context, sessionID string) ([]*domain.ScoredResponse, error) {
	query := `
		SELECT id, session_id, user_id, question_number, question_text, user_response, score, created_at
		FROM gad7_responses WHERE session_id = ? ORDER BY question_number ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close response rows", "error", closeErr)
		}
	}()

	var out []*domain.ScoredResponse
	for rows.Next() {
		var r domain.ScoredResponse
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.QuestionNumber,
			&r.QuestionText, &r.UserResponse, &r.Score, &createdAt); err != nil {
			return nil, fmt.Errorf("scan response row: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}

func nullableText(v string) any {
	if v == "" {
		return nil
	}
	return v
}

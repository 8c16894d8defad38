package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/memory"
)

// SQLiteStore implements Store backed by a SQLite database file.
type SQLiteStore struct {
	db       *sql.DB
	users    *SQLiteUserStore
	sessions *SQLiteSessionStore
}

// NewSQLiteStore opens the database at dbPath and applies migrations.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{
		db:       db,
		users:    &SQLiteUserStore{db: db},
		sessions: &SQLiteSessionStore{db: db},
	}, nil
}

func (s *SQLiteStore) Users() UserStore       { return s.users }
func (s *SQLiteStore) Sessions() SessionStore { return s.sessions }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ---------------------------------------------------------------------------
// SQLiteUserStore
// ---------------------------------------------------------------------------

// SQLiteUserStore implements UserStore on SQLite.
type SQLiteUserStore struct {
	db *sql.DB
}

const sqliteUserColumns = `id, email, consent_email, language, created_at, updated_at`

func (s *SQLiteUserStore) GetOrCreate(ctx context.Context, id string, defaults User) (*User, bool, error) {
	if id == "" {
		return nil, false, ErrInvalid
	}
	u := defaults
	u.ID = id
	u.normalize()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+sqliteUserColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Email, u.ConsentEmail, u.Language, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return &u, true, nil
	}
	existing, err := s.Get(ctx, id)
	return existing, false, err
}

func (s *SQLiteUserStore) Get(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
	var (
		u                    User
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.ConsentEmail, &u.Language, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (s *SQLiteUserStore) Update(ctx context.Context, u *User) error {
	u.normalize()
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email = ?, consent_email = ?, language = ?, updated_at = ?
		WHERE id = ?`,
		u.Email, u.ConsentEmail, u.Language, formatTime(u.UpdatedAt), u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// SQLiteSessionStore
// ---------------------------------------------------------------------------

// SQLiteSessionStore implements SessionStore on SQLite.
type SQLiteSessionStore struct {
	db *sql.DB
}

const sqliteSessionColumns = `id, user_id, custom_email, language, messages, summary, risk, emailed, finished, created_at, updated_at`

func (s *SQLiteSessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.UserID == "" {
		return ErrInvalid
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.normalize()
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	msgs, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sqliteSessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.CustomEmail, sess.Language, string(msgs), sess.Summary,
		sess.Risk.String(), sess.Emailed, sess.Finished, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE"):
			return fmt.Errorf("%w: session %s", ErrDuplicate, sess.ID)
		case strings.Contains(msg, "FOREIGN KEY"):
			return fmt.Errorf("%w: user %s", ErrNotFound, sess.UserID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteSessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("query session: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanSQLiteSession(rows)
}

func (s *SQLiteSessionStore) Update(ctx context.Context, sess *Session) error {
	sess.normalize()
	sess.UpdatedAt = time.Now().UTC()
	msgs, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET custom_email = ?, language = ?, messages = ?, summary = ?,
			risk = ?, emailed = ?, finished = ?, updated_at = ?
		WHERE id = ?`,
		sess.CustomEmail, sess.Language, string(msgs), sess.Summary, sess.Risk.String(),
		sess.Emailed, sess.Finished, formatTime(sess.UpdatedAt), sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteSessionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteSessionColumns+` FROM sessions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []*Session
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSQLiteSession(rows *sql.Rows) (*Session, error) {
	var (
		sess                 Session
		msgs, level          string
		createdAt, updatedAt string
	)
	err := rows.Scan(&sess.ID, &sess.UserID, &sess.CustomEmail, &sess.Language, &msgs, &sess.Summary,
		&level, &sess.Emailed, &sess.Finished, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(msgs), &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []memory.Message{}
	}
	sess.Risk, _ = risk.ParseLevel(level)
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

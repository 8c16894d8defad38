package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/memory"
)

// PGConfig holds PostgreSQL connection configuration.
type PGConfig struct {
	URL             string `yaml:"url" json:"url"`
	MaxConns        int32  `yaml:"max_conns" json:"max_conns"`
	MinConns        int32  `yaml:"min_conns" json:"min_conns"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
}

// PGStore wraps a pgxpool.Pool and provides access to the record stores.
type PGStore struct {
	pool     *pgxpool.Pool
	users    *PGUserStore
	sessions *PGSessionStore
}

// NewPGStore connects to PostgreSQL and applies migrations.
func NewPGStore(ctx context.Context, cfg PGConfig) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime != "" {
		d, err := time.ParseDuration(cfg.MaxConnIdleTime)
		if err != nil {
			return nil, fmt.Errorf("parse max_conn_idle_time: %w", err)
		}
		poolCfg.MaxConnIdleTime = d
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if err := NewPGMigrator(pool).Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PGStore{
		pool:     pool,
		users:    &PGUserStore{pool: pool},
		sessions: &PGSessionStore{pool: pool},
	}, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *PGStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PGStore) Users() UserStore       { return s.users }
func (s *PGStore) Sessions() SessionStore { return s.sessions }

// Close closes the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func isPGError(err error, code string) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == code
	}
	return false
}

// ---------------------------------------------------------------------------
// PGUserStore
// ---------------------------------------------------------------------------

// PGUserStore implements UserStore backed by PostgreSQL.
type PGUserStore struct {
	pool *pgxpool.Pool
}

func (s *PGUserStore) GetOrCreate(ctx context.Context, id string, defaults User) (*User, bool, error) {
	if id == "" {
		return nil, false, ErrInvalid
	}
	u := defaults
	u.ID = id
	u.normalize()
	rows, err := s.pool.Query(ctx, `
		INSERT INTO users (id, email, consent_email, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING id, email, consent_email, language, created_at, updated_at`,
		u.ID, u.Email, u.ConsentEmail, u.Language)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	created, err := pgx.CollectRows(rows, scanPGUser)
	if err != nil {
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	if len(created) == 1 {
		return created[0], true, nil
	}
	existing, err := s.Get(ctx, id)
	return existing, false, err
}

func (s *PGUserStore) Get(ctx context.Context, id string) (*User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, consent_email, language, created_at, updated_at
		FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanPGUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *PGUserStore) Update(ctx context.Context, u *User) error {
	u.normalize()
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET email=$2, consent_email=$3, language=$4, updated_at=NOW()
		WHERE id=$1`,
		u.ID, u.Email, u.ConsentEmail, u.Language)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPGUser(row pgx.CollectableRow) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.ConsentEmail, &u.Language, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// PGSessionStore
// ---------------------------------------------------------------------------

// PGSessionStore implements SessionStore backed by PostgreSQL.
type PGSessionStore struct {
	pool *pgxpool.Pool
}

const pgSessionColumns = `id, user_id, custom_email, language, messages, summary, risk, emailed, finished, created_at, updated_at`

func (s *PGSessionStore) Create(ctx context.Context, sess *Session) error {
	if sess.UserID == "" {
		return ErrInvalid
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.normalize()
	msgs, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, custom_email, language, messages, summary,
			risk, emailed, finished, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
		RETURNING created_at, updated_at`,
		sess.ID, sess.UserID, sess.CustomEmail, sess.Language, msgs, sess.Summary,
		sess.Risk.String(), sess.Emailed, sess.Finished).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		switch {
		case isPGError(err, "23505"):
			return fmt.Errorf("%w: session %s", ErrDuplicate, sess.ID)
		case isPGError(err, "23503"):
			return fmt.Errorf("%w: user %s", ErrNotFound, sess.UserID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PGSessionStore) Get(ctx context.Context, id string) (*Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgSessionColumns+` FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	sess, err := pgx.CollectExactlyOneRow(rows, scanPGSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

func (s *PGSessionStore) Update(ctx context.Context, sess *Session) error {
	sess.normalize()
	msgs, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET custom_email=$2, language=$3, messages=$4, summary=$5,
			risk=$6, emailed=$7, finished=$8, updated_at=NOW()
		WHERE id=$1`,
		sess.ID, sess.CustomEmail, sess.Language, msgs, sess.Summary,
		sess.Risk.String(), sess.Emailed, sess.Finished)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGSessionStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgSessionColumns+` FROM sessions
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, scanPGSession)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func scanPGSession(row pgx.CollectableRow) (*Session, error) {
	var (
		sess  Session
		msgs  []byte
		level string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.CustomEmail, &sess.Language, &msgs, &sess.Summary,
		&level, &sess.Emailed, &sess.Finished, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(msgs, &sess.Messages); err != nil {
		return nil, fmt.Errorf("decode session messages: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []memory.Message{}
	}
	sess.Risk, _ = risk.ParseLevel(level)
	return &sess, nil
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

type migration struct {
	version string
	sql     string
}

// loadMigrations returns the migrations for dialect, sorted by file name.
func loadMigrations(dialect string) ([]migration, error) {
	dir := "migrations/" + dialect
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, migration{version: strings.TrimSuffix(entry.Name(), ".sql"), sql: string(content)})
	}
	return out, nil
}

// PGMigrator applies the embedded PostgreSQL migrations.
type PGMigrator struct {
	pool *pgxpool.Pool
}

// NewPGMigrator creates a new PGMigrator.
func NewPGMigrator(pool *pgxpool.Pool) *PGMigrator {
	return &PGMigrator{pool: pool}
}

// Migrate applies all pending migrations in order. It uses an advisory lock
// to prevent concurrent migration runs and tracks applied migrations in a
// schema_migrations table.
func (m *PGMigrator) Migrate(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `SELECT pg_advisory_lock(1)`)
	if err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	defer func() {
		_, _ = m.pool.Exec(ctx, `SELECT pg_advisory_unlock(1)`)
	}()

	_, err = m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied := map[string]bool{}
	rows, err := m.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate applied migrations: %w", err)
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		if applied[mig.version] {
			continue
		}
		tx, err := m.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", mig.version, err)
		}
		if _, err := tx.Exec(ctx, mig.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("execute migration %s: %w", mig.version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, mig.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", mig.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", mig.version, err)
		}
	}
	return nil
}

// migrateSQLite applies the embedded SQLite migrations. SQLite connections
// are limited to one, so no lock is needed.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		var n int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, mig.version).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", mig.version, err)
		}
		if n > 0 {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", mig.version, err)
		}
		if _, err := tx.ExecContext(ctx, mig.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", mig.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, mig.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", mig.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", mig.version, err)
		}
	}
	return nil
}

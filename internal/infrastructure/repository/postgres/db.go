package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101401)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id, created_at);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	kind TEXT NOT NULL CHECK (kind IN ('document', 'geospatial')),
	status TEXT NOT NULL CHECK (status IN ('uploaded', 'processing', 'completed', 'failed')),
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_project_kind ON files(project_id, kind, created_at);

CREATE TABLE IF NOT EXISTS insights (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	file_id TEXT NOT NULL REFERENCES files(id),
	owner_id TEXT NOT NULL,
	excerpt TEXT NOT NULL CHECK (excerpt <> ''),
	insight TEXT NOT NULL,
	category TEXT NOT NULL CHECK (category IN (
		'Perceptions & Mental Models',
		'Relationships & Power Dynamics',
		'Policies, Practices, & Investments',
		'Systemic Challenges'
	)),
	status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
	ordinal INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	reviewed_by TEXT NOT NULL DEFAULT '',
	reviewed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_insights_project_status ON insights(project_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_insights_file ON insights(file_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

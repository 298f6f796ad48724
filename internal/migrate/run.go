// Package migrate applies the embedded schema migrations for the job store
// backends. Each backend dialect carries its own migration set because the
// DDL differs (identity columns, time column types) even though the
// bookkeeping queries are shared.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Dialect selects which embedded migration set applies.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Valid reports whether the dialect names an embedded migration set.
func (d Dialect) Valid() bool {
	return d == DialectSQLite || d == DialectPostgres
}

// Run applies all unapplied migrations for the dialect. It is safe to call
// multiple times; applied versions are recorded in schema_migrations.
func Run(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if !dialect.Valid() {
		return fmt.Errorf("unknown migration dialect %q", dialect)
	}
	if err := ensureVersionTable(ctx, db, dialect); err != nil {
		return err
	}

	files, err := migrationFiles(dialect)
	if err != nil {
		return err
	}

	for _, f := range files {
		info := migrationInfo{
			versionStr: strings.TrimSuffix(f, ".sql"),
			file:       f,
			dialect:    dialect,
		}
		if applyErr := applyMigration(ctx, db, info); applyErr != nil {
			return applyErr
		}
	}
	return nil
}

// Pending returns the versions embedded for the dialect that have not been
// applied to db. A nil slice means the schema is current.
func Pending(ctx context.Context, db *sql.DB, dialect Dialect) ([]string, error) {
	if !dialect.Valid() {
		return nil, fmt.Errorf("unknown migration dialect %q", dialect)
	}
	if err := ensureVersionTable(ctx, db, dialect); err != nil {
		return nil, err
	}

	files, err := migrationFiles(dialect)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, f := range files {
		info := migrationInfo{
			versionStr: strings.TrimSuffix(f, ".sql"),
			file:       f,
			dialect:    dialect,
		}
		exists, checkErr := migrationExists(ctx, db, info)
		if checkErr != nil {
			return nil, checkErr
		}
		if !exists {
			pending = append(pending, info.versionStr)
		}
	}
	return pending, nil
}

func ensureVersionTable(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var ddl string
	switch dialect {
	case DialectPostgres:
		ddl = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	case DialectSQLite:
		ddl = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

func migrationFiles(dialect Dialect) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations/" + string(dialect))
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dialect, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// migrationInfo holds information about a migration for processing.
type migrationInfo struct {
	versionStr string
	file       string
	dialect    Dialect
}

func (m migrationInfo) path() string {
	return "migrations/" + string(m.dialect) + "/" + m.file
}

func migrationExists(ctx context.Context, db *sql.DB, info migrationInfo) (bool, error) {
	var exists bool
	// $1 placeholders are accepted by both pgx and modernc sqlite.
	query := `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`
	if err := db.QueryRowContext(ctx, query, info.versionStr).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", info.file, err)
	}
	return exists, nil
}

func insertMigration(ctx context.Context, tx *sql.Tx, info migrationInfo) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, info.versionStr); err != nil {
		return fmt.Errorf("record migration %s: %w", info.file, err)
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, info migrationInfo) error {
	exists, err := migrationExists(ctx, db, info)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	sqlBytes, err := migrationsFS.ReadFile(info.path())
	if err != nil {
		return fmt.Errorf("read migration %s: %w", info.file, err)
	}

	logger := slog.Default().With("component", "migrations")
	logger.InfoContext(ctx, "applying migration", "dialect", string(info.dialect), "version", info.versionStr)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			logger.ErrorContext(
				ctx,
				"failed to rollback transaction",
				"err",
				rollbackErr,
				"migration_file",
				info.file,
			)
		}
	}()

	if _, execErr := tx.ExecContext(ctx, string(sqlBytes)); execErr != nil {
		return fmt.Errorf("exec migration %s: %w", info.file, execErr)
	}
	if insertErr := insertMigration(ctx, tx, info); insertErr != nil {
		return insertErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit migration %s: %w", info.file, commitErr)
	}

	return nil
}

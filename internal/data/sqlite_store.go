package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Register the embedded sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/migrate"
)

// sqliteTimeLayout is fixed width so lexicographic comparison of stored
// times in SQL matches chronological order. RFC3339Nano trims trailing
// zeros and would break that.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const sqliteJobColumns = `
	id,
	name,
	trigger_spec,
	pipeline_config,
	next_fire_at,
	last_fire_at,
	coalesce_runs,
	max_instances,
	misfire_grace_seconds,
	created_at,
	updated_at
`

// SQLiteStore persists jobs in an embedded sqlite database, the default
// backend for single-node deployments.
type SQLiteStore struct {
	db    *sql.DB
	clock core.TimeProvider
}

// SQLiteStoreOptions configures NewSQLiteStore.
type SQLiteStoreOptions struct {
	// Path is the database file location; parent directories are created.
	Path         string
	AutoMigrate  bool
	TimeProvider core.TimeProvider
}

var _ core.JobStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database file, verifies it is usable,
// and applies or checks migrations. A corrupt or unreadable file surfaces
// as StoreUnavailable here rather than on first use.
func NewSQLiteStore(ctx context.Context, opts SQLiteStoreOptions) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, apperrors.ValidationField("store_url", "sqlite store path is empty")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &core.RealTimeProvider{}
	}

	if dir := filepath.Dir(opts.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeStoreUnavailable, "create store directory %s", dir)
		}
	}

	dsn := "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "open sqlite store")
	}
	// A single pooled connection serializes writers in-process and avoids
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, clock: opts.TimeProvider}
	if prepErr := store.prepare(ctx, opts.AutoMigrate); prepErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			_ = closeErr
		}
		return nil, prepErr
	}
	return store, nil
}

func (s *SQLiteStore) prepare(ctx context.Context, autoMigrate bool) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "ping sqlite store")
	}
	if autoMigrate {
		if err := migrate.Run(ctx, s.db, migrate.DialectSQLite); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "migrate sqlite store")
		}
		return nil
	}
	pending, err := migrate.Pending(ctx, s.db, migrate.DialectSQLite)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "check sqlite store schema")
	}
	if len(pending) > 0 {
		return apperrors.StoreUnavailable(
			fmt.Sprintf("store schema is %d migrations behind, run ingestd-admin migrate", len(pending)))
	}
	return nil
}

// Insert stores a new job and stamps CreatedAt and UpdatedAt on it.
func (s *SQLiteStore) Insert(ctx context.Context, job *model.Job) error {
	now := s.clock.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	triggerSpec, err := encodeTriggerSpec(job.Trigger)
	if err != nil {
		return err
	}
	cfg, err := encodePipelineConfig(job.PipelineConfig)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + sqliteJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		string(triggerSpec),
		string(cfg),
		sqliteNullTime(job.NextFireTime),
		sqliteNullTime(job.LastFireTime),
		sqliteBool(job.Coalesce),
		job.MaxInstances,
		job.MisfireGraceSeconds,
		sqliteTime(now),
		sqliteTime(now),
	)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	return nil
}

// Replace swaps the stored record for job.ID, preserving its insertion
// order and creation time, and clears any acquisition lease.
func (s *SQLiteStore) Replace(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = s.clock.Now().UTC()

	triggerSpec, err := encodeTriggerSpec(job.Trigger)
	if err != nil {
		return err
	}
	cfg, err := encodePipelineConfig(job.PipelineConfig)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs SET
			name = ?,
			trigger_spec = ?,
			pipeline_config = ?,
			next_fire_at = ?,
			last_fire_at = ?,
			coalesce_runs = ?,
			max_instances = ?,
			misfire_grace_seconds = ?,
			lease_until = NULL,
			updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		job.Name,
		string(triggerSpec),
		string(cfg),
		sqliteNullTime(job.NextFireTime),
		sqliteNullTime(job.LastFireTime),
		sqliteBool(job.Coalesce),
		job.MaxInstances,
		job.MisfireGraceSeconds,
		sqliteTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	return requireRowAffected(res, job.ID)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE id = ?`
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFoundf("job %q not found", id)
		}
		return nil, apperrors.MapStoreError(err)
	}
	return job, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	return requireRowAffected(res, id)
}

func (s *SQLiteStore) List(ctx context.Context) ([]*model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	return collectSQLiteJobs(rows)
}

func (s *SQLiteStore) PeekEarliest(ctx context.Context, now time.Time) (*model.Job, error) {
	query := `
		SELECT ` + sqliteJobColumns + `
		FROM jobs
		WHERE next_fire_at IS NOT NULL
		  AND (lease_until IS NULL OR lease_until <= ?)
		ORDER BY next_fire_at ASC, id ASC
		LIMIT 1
	`
	job, err := scanSQLiteJob(s.db.QueryRowContext(ctx, query, sqliteTime(now)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.MapStoreError(err)
	}
	return job, nil
}

// AcquireDue leases and returns due jobs in one statement; RETURNING makes
// the select-and-stamp atomic without an explicit transaction.
func (s *SQLiteStore) AcquireDue(ctx context.Context, p core.AcquireParams) ([]*model.Job, error) {
	if p.Limit <= 0 {
		return nil, nil
	}

	now := sqliteTime(p.Now)
	query := `
		UPDATE jobs SET lease_until = ?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE next_fire_at IS NOT NULL
			  AND next_fire_at <= ?
			  AND (lease_until IS NULL OR lease_until <= ?)
			ORDER BY next_fire_at ASC, id ASC
			LIMIT ?
		)
		RETURNING ` + sqliteJobColumns
	rows, err := s.db.QueryContext(ctx, query, sqliteTime(p.Now.Add(p.Lease)), now, now, p.Limit)
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	jobs, err := collectSQLiteJobs(rows)
	if err != nil {
		return nil, err
	}
	sortJobsByFireOrder(jobs)
	return jobs, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "ping sqlite store")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	if n == 0 {
		return apperrors.NotFoundf("job %q not found", id)
	}
	return nil
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: sqliteTime(*t), Valid: true}
}

func sqliteBool(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "parse stored time %q", s)
	}
	return t, nil
}

func parseSQLiteNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(sc rowScanner) (*model.Job, error) {
	var (
		id, name                          string
		triggerSpec, pipelineConfig       string
		nextFireAt, lastFireAt            sql.NullString
		coalesceRuns                      int
		maxInstances, misfireGraceSeconds int
		createdAt, updatedAt              string
	)
	if err := sc.Scan(
		&id, &name, &triggerSpec, &pipelineConfig,
		&nextFireAt, &lastFireAt, &coalesceRuns,
		&maxInstances, &misfireGraceSeconds,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	spec, err := decodeTriggerSpec([]byte(triggerSpec))
	if err != nil {
		return nil, err
	}
	cfg, err := decodePipelineConfig([]byte(pipelineConfig))
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:                  id,
		Name:                name,
		Trigger:             spec,
		PipelineConfig:      cfg,
		Coalesce:            coalesceRuns != 0,
		MaxInstances:        maxInstances,
		MisfireGraceSeconds: misfireGraceSeconds,
	}
	if job.NextFireTime, err = parseSQLiteNullTime(nextFireAt); err != nil {
		return nil, err
	}
	if job.LastFireTime, err = parseSQLiteNullTime(lastFireAt); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return nil, err
	}
	return job, nil
}

func collectSQLiteJobs(rows *sql.Rows) ([]*model.Job, error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			_ = cerr
		}
	}()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, apperrors.MapStoreError(err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	return jobs, nil
}

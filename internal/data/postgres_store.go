package data

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	// Register the pgx driver for database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/data/pgxutil"
	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/migrate"
)

const postgresJobColumns = `
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

// postgresMigrationLock names the advisory lock that serializes concurrent
// nodes applying migrations against a shared database.
const postgresMigrationLock = "ingestd_migrations"

const defaultPostgresMaxConns = 10

// PostgresStore persists jobs in a shared postgres database so several
// scheduler nodes can coordinate through row leases. Due-job acquisition
// uses FOR UPDATE SKIP LOCKED so concurrent nodes never double-assign a
// firing.
type PostgresStore struct {
	db    *sql.DB
	clock core.TimeProvider
}

// PostgresStoreOptions configures NewPostgresStore.
type PostgresStoreOptions struct {
	// URL is a postgres:// connection string.
	URL          string
	AutoMigrate  bool
	TimeProvider core.TimeProvider
	// MaxConns caps the connection pool. Defaults to 10.
	MaxConns int
}

var _ core.JobStore = (*PostgresStore)(nil)

// NewPostgresStore opens a connection pool, verifies the database is
// reachable, and applies or checks migrations.
func NewPostgresStore(ctx context.Context, opts PostgresStoreOptions) (*PostgresStore, error) {
	if opts.TimeProvider == nil {
		opts.TimeProvider = &core.RealTimeProvider{}
	}

	db, err := sql.Open("pgx", opts.URL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "open postgres store")
	}
	maxConns := opts.MaxConns
	if maxConns <= 0 {
		maxConns = defaultPostgresMaxConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)

	store := &PostgresStore{db: db, clock: opts.TimeProvider}
	if prepErr := store.prepare(ctx, opts.AutoMigrate); prepErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			_ = closeErr
		}
		return nil, prepErr
	}
	return store, nil
}

func (s *PostgresStore) prepare(ctx context.Context, autoMigrate bool) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "ping postgres store")
	}
	if autoMigrate {
		if err := s.migrateUnderLock(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "migrate postgres store")
		}
		return nil
	}
	pending, err := migrate.Pending(ctx, s.db, migrate.DialectPostgres)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "check postgres store schema")
	}
	if len(pending) > 0 {
		return apperrors.StoreUnavailable(
			fmt.Sprintf("store schema is %d migrations behind, run ingestd-admin migrate", len(pending)))
	}
	return nil
}

// migrateUnderLock holds a session advisory lock while applying migrations
// so concurrent nodes starting against the same database serialize instead
// of racing the DDL.
func (s *PostgresStore) migrateUnderLock(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	lockKey := fnvHash(postgresMigrationLock)
	if _, lockErr := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockKey); lockErr != nil {
		return fmt.Errorf("acquire migration lock: %w", lockErr)
	}
	defer func() {
		unlockCtx := context.WithoutCancel(ctx)
		if _, unlockErr := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", lockKey); unlockErr != nil {
			slog.Default().ErrorContext(unlockCtx, "failed to release migration lock", "err", unlockErr)
		}
	}()

	return migrate.Run(ctx, s.db, migrate.DialectPostgres)
}

// fnvHash computes FNV-1a 64-bit hash of the given string for use as advisory lock key.
func fnvHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// Advisory locks accept BIGINT; constrain the unsigned hash into int64 range before casting.
	u := h.Sum64()
	if u > uint64(math.MaxInt64) {
		u %= uint64(math.MaxInt64)
	}
	return int64(u) // #nosec G115 -- value is explicitly bounded to <= MaxInt64 before casting to int64.
}

// Insert stores a new job and stamps CreatedAt and UpdatedAt on it.
func (s *PostgresStore) Insert(ctx context.Context, job *model.Job) error {
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
		INSERT INTO jobs (` + postgresJobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		triggerSpec,
		cfg,
		pgNullTime(job.NextFireTime),
		pgNullTime(job.LastFireTime),
		job.Coalesce,
		job.MaxInstances,
		job.MisfireGraceSeconds,
		now,
		now,
	)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	return nil
}

// Replace swaps the stored record for job.ID, preserving its insertion
// order and creation time, and clears any acquisition lease.
func (s *PostgresStore) Replace(ctx context.Context, job *model.Job) error {
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
			name = $1,
			trigger_spec = $2,
			pipeline_config = $3,
			next_fire_at = $4,
			last_fire_at = $5,
			coalesce_runs = $6,
			max_instances = $7,
			misfire_grace_seconds = $8,
			lease_until = NULL,
			updated_at = $9
		WHERE id = $10
	`
	res, err := s.db.ExecContext(ctx, query,
		job.Name,
		triggerSpec,
		cfg,
		pgNullTime(job.NextFireTime),
		pgNullTime(job.LastFireTime),
		job.Coalesce,
		job.MaxInstances,
		job.MisfireGraceSeconds,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	return requireRowAffected(res, job.ID)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + postgresJobColumns + ` FROM jobs WHERE id = $1`
	jobs, err := s.collectJobs(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, apperrors.NotFoundf("job %q not found", id)
	}
	return jobs[0], nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return apperrors.MapStoreError(err)
	}
	return requireRowAffected(res, id)
}

func (s *PostgresStore) List(ctx context.Context) ([]*model.Job, error) {
	query := `SELECT ` + postgresJobColumns + ` FROM jobs ORDER BY seq ASC`
	return s.collectJobs(ctx, query)
}

func (s *PostgresStore) PeekEarliest(ctx context.Context, now time.Time) (*model.Job, error) {
	query := `
		SELECT ` + postgresJobColumns + `
		FROM jobs
		WHERE next_fire_at IS NOT NULL
		  AND (lease_until IS NULL OR lease_until <= $1)
		ORDER BY next_fire_at ASC, id ASC
		LIMIT 1
	`
	jobs, err := s.collectJobs(ctx, query, now.UTC())
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// AcquireDue leases and returns due jobs in one statement. SKIP LOCKED lets
// concurrent nodes pass over rows another node is acquiring; the RETURNING
// order is unspecified, so rows are re-sorted into fire order.
func (s *PostgresStore) AcquireDue(ctx context.Context, p core.AcquireParams) ([]*model.Job, error) {
	if p.Limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE jobs SET lease_until = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE next_fire_at IS NOT NULL
			  AND next_fire_at <= $2
			  AND (lease_until IS NULL OR lease_until <= $2)
			ORDER BY next_fire_at ASC, id ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + postgresJobColumns
	jobs, err := s.collectJobs(ctx, query, p.Now.Add(p.Lease).UTC(), p.Now.UTC(), p.Limit)
	if err != nil {
		return nil, err
	}
	sortJobsByFireOrder(jobs)
	return jobs, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeStoreUnavailable, "ping postgres store")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// collectJobs runs a row-returning query through the pgx bridge so rows can
// be collected into the schema-matching row struct by column name.
func (s *PostgresStore) collectJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, s.db, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		collected, collectErr := pgx.CollectRows(rows, pgx.RowToStructByName[postgresJobRow])
		if collectErr != nil {
			return collectErr
		}
		for _, row := range collected {
			job, convErr := row.toJob()
			if convErr != nil {
				return convErr
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapStoreError(err)
	}
	return jobs, nil
}

// postgresJobRow matches the jobs schema exactly, allowing
// pgx.RowToStructByName to collect rows without positional scanning.
type postgresJobRow struct {
	ID                  string       `db:"id"`
	Name                string       `db:"name"`
	TriggerSpec         []byte       `db:"trigger_spec"`
	PipelineConfig      []byte       `db:"pipeline_config"`
	NextFireAt          sql.NullTime `db:"next_fire_at"`
	LastFireAt          sql.NullTime `db:"last_fire_at"`
	CoalesceRuns        bool         `db:"coalesce_runs"`
	MaxInstances        int          `db:"max_instances"`
	MisfireGraceSeconds int          `db:"misfire_grace_seconds"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func (r postgresJobRow) toJob() (*model.Job, error) {
	spec, err := decodeTriggerSpec(r.TriggerSpec)
	if err != nil {
		return nil, err
	}
	cfg, err := decodePipelineConfig(r.PipelineConfig)
	if err != nil {
		return nil, err
	}

	job := &model.Job{
		ID:                  r.ID,
		Name:                r.Name,
		Trigger:             spec,
		PipelineConfig:      cfg,
		Coalesce:            r.CoalesceRuns,
		MaxInstances:        r.MaxInstances,
		MisfireGraceSeconds: r.MisfireGraceSeconds,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if r.NextFireAt.Valid {
		t := r.NextFireAt.Time.UTC()
		job.NextFireTime = &t
	}
	if r.LastFireAt.Valid {
		t := r.LastFireAt.Time.UTC()
		job.LastFireTime = &t
	}
	return job, nil
}

func pgNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

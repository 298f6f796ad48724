package data_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/data"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/testutil"
)

// storeEnv bundles a store under test with the clock that stamps its writes.
type storeEnv struct {
	store core.JobStore
	clock *core.FixedTimeProvider
}

type storeFactory func(t *testing.T) storeEnv

// storeBackends returns one factory per backend so every scenario runs
// against all of them. The postgres factory skips when no test database is
// reachable.
func storeBackends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) storeEnv {
			t.Helper()
			clock := core.NewFixedTimeProvider(testutil.TestTime())
			return storeEnv{store: data.NewMemoryStore(clock), clock: clock}
		},
		"sqlite": func(t *testing.T) storeEnv {
			t.Helper()
			clock := core.NewFixedTimeProvider(testutil.TestTime())
			store, err := data.NewSQLiteStore(context.Background(), data.SQLiteStoreOptions{
				Path:         filepath.Join(t.TempDir(), "jobs.db"),
				AutoMigrate:  true,
				TimeProvider: clock,
			})
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, store.Close())
			})
			return storeEnv{store: store, clock: clock}
		},
		"postgres": func(t *testing.T) storeEnv {
			t.Helper()
			db := testutil.SetupTestDB(t)
			t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

			clock := core.NewFixedTimeProvider(testutil.TestTime())
			// SetupTestDB already migrated, so construction exercises
			// the schema-current check.
			store, err := data.NewPostgresStore(context.Background(), data.PostgresStoreOptions{
				URL:          testutil.PostgresDSN(testutil.DefaultTestDBConfig()),
				AutoMigrate:  false,
				TimeProvider: clock,
			})
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, store.Close())
			})
			return storeEnv{store: store, clock: clock}
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, env storeEnv)) {
	t.Helper()
	for name, factory := range storeBackends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func intervalSpec(periodSeconds int64, anchor time.Time) trigger.Spec {
	return trigger.Spec{
		Kind:          trigger.KindInterval,
		PeriodSeconds: periodSeconds,
		Anchor:        &anchor,
	}
}

// contractJob builds a due-at-next interval job with a representative
// pipeline config.
func contractJob(id string, next time.Time) *model.Job {
	nextCopy := next
	return &model.Job{
		ID:      id,
		Name:    "ingest " + id,
		Trigger: intervalSpec(300, testutil.TestTime()),
		PipelineConfig: model.PipelineConfig{
			"data_dir":   model.StringValue("./data/docs"),
			"batch_size": model.IntValue(50),
		},
		NextFireTime:        &nextCopy,
		Coalesce:            true,
		MaxInstances:        model.DefaultMaxInstances,
		MisfireGraceSeconds: model.DefaultMisfireGraceSeconds,
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()
		next := base.Add(10 * time.Minute)
		last := base.Add(-5 * time.Minute)

		job := contractJob("ingest_docs", next)
		job.LastFireTime = &last

		require.NoError(t, env.store.Insert(ctx, job))
		assert.True(t, job.CreatedAt.Equal(base), "insert stamps CreatedAt")
		assert.True(t, job.UpdatedAt.Equal(base), "insert stamps UpdatedAt")

		got, err := env.store.Get(ctx, "ingest_docs")
		require.NoError(t, err)
		assert.Equal(t, "ingest_docs", got.ID)
		assert.Equal(t, "ingest ingest_docs", got.Name)
		assert.Equal(t, trigger.KindInterval, got.Trigger.Kind)
		assert.Equal(t, int64(300), got.Trigger.PeriodSeconds)
		require.NotNil(t, got.Trigger.Anchor)
		assert.True(t, got.Trigger.Anchor.Equal(base))
		assert.Equal(t, job.PipelineConfig, got.PipelineConfig)
		require.NotNil(t, got.NextFireTime)
		assert.True(t, got.NextFireTime.Equal(next))
		require.NotNil(t, got.LastFireTime)
		assert.True(t, got.LastFireTime.Equal(last))
		assert.True(t, got.Coalesce)
		assert.Equal(t, model.DefaultMaxInstances, got.MaxInstances)
		assert.Equal(t, model.DefaultMisfireGraceSeconds, got.MisfireGraceSeconds)
		assert.True(t, got.CreatedAt.Equal(base))
		assert.True(t, got.UpdatedAt.Equal(base))
	})
}

func TestStoreInsertDuplicateID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("dup", base)))

		err := env.store.Insert(ctx, contractJob("dup", base.Add(time.Hour)))
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err), "duplicate insert should be a conflict, got %v", err)
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		_, err := env.store.Get(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestStoreReplace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("first", base.Add(time.Minute))))
		require.NoError(t, env.store.Insert(ctx, contractJob("second", base.Add(2*time.Minute))))

		env.clock.AddTime(time.Minute)
		newNext := base.Add(45 * time.Minute)
		replacement := contractJob("first", newNext)
		replacement.Name = "renamed"
		replacement.Coalesce = false
		replacement.PipelineConfig = model.PipelineConfig{
			"dry_run": model.BoolValue(true),
		}
		require.NoError(t, env.store.Replace(ctx, replacement))

		got, err := env.store.Get(ctx, "first")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.False(t, got.Coalesce)
		assert.Equal(t, replacement.PipelineConfig, got.PipelineConfig)
		require.NotNil(t, got.NextFireTime)
		assert.True(t, got.NextFireTime.Equal(newNext))
		assert.True(t, got.CreatedAt.Equal(base), "replace preserves CreatedAt")
		assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)), "replace stamps UpdatedAt")

		// Replacing must not move the job in insertion order.
		jobs, err := env.store.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "first", jobs[0].ID)
		assert.Equal(t, "second", jobs[1].ID)
	})
}

func TestStoreReplaceMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		err := env.store.Replace(context.Background(), contractJob("ghost", testutil.TestTime()))
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestStoreDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()

		require.NoError(t, env.store.Insert(ctx, contractJob("gone", testutil.TestTime())))
		require.NoError(t, env.store.Delete(ctx, "gone"))

		_, err := env.store.Get(ctx, "gone")
		assert.True(t, apperrors.IsNotFound(err))

		err = env.store.Delete(ctx, "gone")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestStoreListInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		jobs, err := env.store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		for _, id := range []string{"zeta", "alpha", "mid"} {
			require.NoError(t, env.store.Insert(ctx, contractJob(id, base)))
		}

		jobs, err = env.store.List(ctx)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, "zeta", jobs[0].ID)
		assert.Equal(t, "alpha", jobs[1].ID)
		assert.Equal(t, "mid", jobs[2].ID)
	})
}

func TestStorePeekEarliest(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		peeked, err := env.store.PeekEarliest(ctx, base)
		require.NoError(t, err)
		assert.Nil(t, peeked, "empty store peeks nothing")

		require.NoError(t, env.store.Insert(ctx, contractJob("later", base.Add(3*time.Minute))))
		paused := contractJob("paused", base)
		paused.NextFireTime = nil
		require.NoError(t, env.store.Insert(ctx, paused))
		require.NoError(t, env.store.Insert(ctx, contractJob("b_tie", base.Add(time.Minute))))
		require.NoError(t, env.store.Insert(ctx, contractJob("a_tie", base.Add(time.Minute))))

		peeked, err = env.store.PeekEarliest(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, peeked)
		assert.Equal(t, "a_tie", peeked.ID, "ties break by ascending id")
	})
}

func TestStorePeekSkipsLeased(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("early", base.Add(-2*time.Minute))))
		require.NoError(t, env.store.Insert(ctx, contractJob("late", base.Add(-time.Minute))))

		acquired, err := env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 1, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, acquired, 1)
		assert.Equal(t, "early", acquired[0].ID)

		peeked, err := env.store.PeekEarliest(ctx, base)
		require.NoError(t, err)
		require.NotNil(t, peeked)
		assert.Equal(t, "late", peeked.ID, "leased job is invisible to peek")

		acquired, err = env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 1, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, acquired, 1)
		assert.Equal(t, "late", acquired[0].ID)

		peeked, err = env.store.PeekEarliest(ctx, base)
		require.NoError(t, err)
		assert.Nil(t, peeked, "everything leased peeks nothing")

		peeked, err = env.store.PeekEarliest(ctx, base.Add(2*time.Minute))
		require.NoError(t, err)
		require.NotNil(t, peeked)
		assert.Equal(t, "early", peeked.ID, "expired lease becomes visible again")
	})
}

func TestStoreAcquireDueOrderAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("c", base.Add(-time.Second))))
		require.NoError(t, env.store.Insert(ctx, contractJob("a", base.Add(-3*time.Second))))
		require.NoError(t, env.store.Insert(ctx, contractJob("b", base.Add(-2*time.Second))))
		require.NoError(t, env.store.Insert(ctx, contractJob("future", base.Add(time.Hour))))

		params := core.AcquireParams{Now: base, Limit: 2, Lease: time.Minute}
		got, err := env.store.AcquireDue(ctx, params)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "b", got[1].ID)

		got, err = env.store.AcquireDue(ctx, params)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID)

		got, err = env.store.AcquireDue(ctx, params)
		require.NoError(t, err)
		assert.Empty(t, got, "future job is not due")
	})
}

func TestStoreAcquireDueLeaseExpiry(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("retry_me", base)))

		got, err := env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 10, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 10, Lease: time.Minute})
		require.NoError(t, err)
		assert.Empty(t, got, "unexpired lease blocks re-acquisition")

		// Past the lease the firing is handed out again (at-least-once).
		got, err = env.store.AcquireDue(ctx, core.AcquireParams{Now: base.Add(61 * time.Second), Limit: 10, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "retry_me", got[0].ID)
	})
}

func TestStoreAcquireDueZeroLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("ready", base)))

		got, err := env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 0, Lease: time.Minute})
		require.NoError(t, err)
		assert.Empty(t, got)

		// A zero-limit call must not lease anything.
		got, err = env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 1, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, got, 1)
	})
}

func TestStoreReplaceClearsLease(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()

		require.NoError(t, env.store.Insert(ctx, contractJob("relisted", base)))

		got, err := env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 1, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 1, Lease: time.Minute})
		require.NoError(t, err)
		require.Empty(t, got)

		require.NoError(t, env.store.Replace(ctx, contractJob("relisted", base)))

		got, err = env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: 1, Lease: time.Minute})
		require.NoError(t, err)
		require.Len(t, got, 1, "replace clears the lease")
	})
}

func TestStoreTriggerSpecRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()
		runDate := base.Add(48 * time.Hour)

		cronJob := contractJob("nightly", base.Add(time.Hour))
		cronJob.Trigger = trigger.Spec{
			Kind:       trigger.KindCron,
			Expression: "0 2 * * *",
			Timezone:   "America/New_York",
		}
		require.NoError(t, env.store.Insert(ctx, cronJob))

		dateJob := contractJob("once", runDate)
		dateJob.Trigger = trigger.Spec{
			Kind:    trigger.KindDate,
			RunDate: &runDate,
		}
		require.NoError(t, env.store.Insert(ctx, dateJob))

		got, err := env.store.Get(ctx, "nightly")
		require.NoError(t, err)
		assert.Equal(t, trigger.KindCron, got.Trigger.Kind)
		assert.Equal(t, "0 2 * * *", got.Trigger.Expression)
		assert.Equal(t, "America/New_York", got.Trigger.Timezone)

		got, err = env.store.Get(ctx, "once")
		require.NoError(t, err)
		assert.Equal(t, trigger.KindDate, got.Trigger.Kind)
		require.NotNil(t, got.Trigger.RunDate)
		assert.True(t, got.Trigger.RunDate.Equal(runDate))
	})
}

func TestStoreConcurrentAcquireNoDoubleAssign(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env storeEnv) {
		ctx := context.Background()
		base := testutil.TestTime()
		const jobCount = 10

		for i := 0; i < jobCount; i++ {
			id := fmt.Sprintf("job_%02d", i)
			require.NoError(t, env.store.Insert(ctx, contractJob(id, base.Add(-time.Duration(i+1)*time.Second))))
		}

		var mu sync.Mutex
		seen := make(map[string]int)

		g := new(errgroup.Group)
		for w := 0; w < 4; w++ {
			g.Go(func() error {
				jobs, err := env.store.AcquireDue(ctx, core.AcquireParams{Now: base, Limit: jobCount, Lease: time.Minute})
				if err != nil {
					return err
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
				return nil
			})
		}
		require.NoError(t, g.Wait())

		assert.Len(t, seen, jobCount, "every due job is acquired")
		for id, n := range seen {
			assert.Equalf(t, 1, n, "job %s acquired more than once", id)
		}
	})
}

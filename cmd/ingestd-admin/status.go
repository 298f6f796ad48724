package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ragline/ingestd/config"
	"github.com/ragline/ingestd/internal/bootstrap"
	"github.com/ragline/ingestd/internal/service"
)

type statusOptions struct {
	JSON  bool
	Query string
}

func parseStatusFlags(args []string) (statusOptions, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts statusOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print the report as JSON instead of a table")
	fs.StringVar(&opts.Query, "query", "", "JMESPath expression applied to the JSON output (implies --json)")

	if err := fs.Parse(args); err != nil {
		return statusOptions{}, err
	}

	return opts, nil
}

// statusReport summarises the store contents. Reaching the store at all is
// part of the check: an unreachable backend fails the command instead.
type statusReport struct {
	Backend       string     `json:"backend"`
	TotalJobs     int        `json:"total_jobs"`
	ScheduledJobs int        `json:"scheduled_jobs"`
	NextJobID     string     `json:"next_job_id,omitempty"`
	NextFireTime  *time.Time `json:"next_fire_time,omitempty"`
	CheckedAt     time.Time  `json:"checked_at"`
}

func runStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseStatusFlags(args)
	if err != nil {
		return err
	}

	target, err := config.ParseStoreURL(cmdCtx.Config.Store.URL)
	if err != nil {
		return fmt.Errorf("invalid STORE_URL: %w", err)
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		list, listErr := jobs.ListJobs(ctx)
		if listErr != nil {
			return listErr
		}

		report := statusReport{
			Backend:   string(target.Backend),
			TotalJobs: len(list),
			CheckedAt: time.Now().UTC(),
		}
		for _, job := range list {
			if job.NextFireTime == nil {
				continue
			}
			report.ScheduledJobs++
			if report.NextFireTime == nil || job.NextFireTime.Before(*report.NextFireTime) {
				next := job.NextFireTime.UTC()
				report.NextFireTime = &next
				report.NextJobID = job.ID
			}
		}

		if opts.JSON || opts.Query != "" {
			return printJSON(report, opts.Query)
		}
		return renderStatus(report)
	})
}

func renderStatus(report statusReport) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "BACKEND\tJOBS\tSCHEDULED\tNEXT JOB\tNEXT FIRE"); err != nil {
		return fmt.Errorf("print status header: %w", err)
	}
	nextJob, nextFire := "-", "-"
	if report.NextFireTime != nil {
		nextJob = report.NextJobID
		nextFire = report.NextFireTime.Format(time.RFC3339)
	}
	if err := writef(w, "%s\t%d\t%d\t%s\t%s\n",
		report.Backend,
		report.TotalJobs,
		report.ScheduledJobs,
		nextJob,
		nextFire,
	); err != nil {
		return fmt.Errorf("print status row: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush status table: %w", err)
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	target, err := config.ParseStoreURL(cmdCtx.Config.Store.URL)
	if err != nil {
		return fmt.Errorf("invalid STORE_URL: %w", err)
	}
	if target.Backend == config.StoreBackendMemory {
		return writeln(os.Stdout, "memory store requires no migrations")
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmdCtx.Logger.Info("running store migrations", "backend", target.Backend)

	// Opening with AutoMigrate applies any pending schema changes.
	storeCfg := cmdCtx.Config.Store
	storeCfg.AutoMigrate = true
	store, err := bootstrap.OpenStore(ctx, bootstrap.StoreDeps{
		Config: storeCfg,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("store close failed", "error", closeErr)
		}
	}()

	if pingErr := store.Ping(ctx); pingErr != nil {
		return fmt.Errorf("verify store after migration: %w", pingErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

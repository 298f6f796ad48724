package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ragline/ingestd/internal/devseed"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	"github.com/ragline/ingestd/internal/service"
)

type listJobsOptions struct {
	JSON  bool
	Query string
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listJobsOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print jobs as JSON instead of a table")
	fs.StringVar(&opts.Query, "query", "", "JMESPath expression applied to the JSON output (implies --json)")

	if err := fs.Parse(args); err != nil {
		return listJobsOptions{}, err
	}

	return opts, nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		list, listErr := jobs.ListJobs(ctx)
		if listErr != nil {
			return listErr
		}
		if opts.JSON || opts.Query != "" {
			return printJSON(list, opts.Query)
		}
		return renderJobsTable(list)
	})
}

func renderJobsTable(jobs []*model.Job) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writeln(w, "ID\tNAME\tTRIGGER\tNEXT FIRE\tLAST FIRE\tCOALESCE\tMAX"); err != nil {
		return fmt.Errorf("print jobs header: %w", err)
	}
	for _, job := range jobs {
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%t\t%d\n",
			job.ID,
			job.Name,
			describeTrigger(job.Trigger),
			formatFireTime(job.NextFireTime),
			formatFireTime(job.LastFireTime),
			job.Coalesce,
			job.MaxInstances,
		); err != nil {
			return fmt.Errorf("print job row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush jobs table: %w", err)
	}
	return writef(os.Stdout, "\n%d job(s)\n", len(jobs))
}

func describeTrigger(spec trigger.Spec) string {
	trig, err := trigger.FromSpec(spec)
	if err != nil {
		return string(spec.Kind)
	}
	return trig.String()
}

func formatFireTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

type runJobOptions struct {
	ID string
}

func parseRunJobFlags(args []string) (runJobOptions, error) {
	fs := flag.NewFlagSet("run-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts runJobOptions
	fs.StringVar(&opts.ID, "id", "", "Job ID to fire (required)")

	if err := fs.Parse(args); err != nil {
		return runJobOptions{}, err
	}

	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return runJobOptions{}, errors.New("--id is required")
	}

	return opts, nil
}

func runRunJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseRunJobFlags(args)
	if err != nil {
		return err
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		job, runErr := jobs.RunNow(ctx, opts.ID)
		if runErr != nil {
			return runErr
		}
		return writef(os.Stdout, "job %s queued; next fire %s\n", job.ID, formatFireTime(job.NextFireTime))
	})
}

type deleteJobOptions struct {
	ID  string
	Yes bool
}

func parseDeleteJobFlags(args []string) (deleteJobOptions, error) {
	fs := flag.NewFlagSet("delete-job", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts deleteJobOptions
	fs.StringVar(&opts.ID, "id", "", "Job ID to delete (required)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return deleteJobOptions{}, err
	}

	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return deleteJobOptions{}, errors.New("--id is required")
	}

	return opts, nil
}

func runDeleteJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseDeleteJobFlags(args)
	if err != nil {
		return err
	}
	if confirmErr := confirmAction(opts.Yes, "delete job", fmt.Sprintf("%q", opts.ID)); confirmErr != nil {
		return confirmErr
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		if deleteErr := jobs.DeleteJob(ctx, opts.ID); deleteErr != nil {
			return deleteErr
		}
		return writef(os.Stdout, "deleted job %s\n", opts.ID)
	})
}

func runSeedDemo(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("seed-demo", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		cmdCtx.Logger.Info("seeding demonstration jobs")
		if seedErr := devseed.Run(ctx, jobs, cmdCtx.Logger); seedErr != nil {
			return fmt.Errorf("seed demo jobs: %w", seedErr)
		}
		cmdCtx.Logger.Info("demo seeding completed successfully")
		return nil
	})
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/ragline/ingestd/config"
	"github.com/ragline/ingestd/internal/bootstrap"
	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/events"
	"github.com/ragline/ingestd/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultCommandTimeout   = 2 * time.Minute
	defaultMigrationTimeout = 5 * time.Minute
)

func main() {
	logger := bootstrap.InitLogger()

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2)
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2)
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1)
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1)
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Apply pending job store schema migrations",
			run:         runMigrate,
		},
		"list-jobs": {
			name:        "list-jobs",
			description: "List scheduled jobs with their triggers and fire times",
			run:         runListJobs,
		},
		"export": {
			name:        "export",
			description: "Export all jobs and scheduler stats as a config document",
			run:         runExport,
		},
		"import": {
			name:        "import",
			description: "Import jobs from a config document (existing ids are skipped)",
			run:         runImport,
		},
		"run-job": {
			name:        "run-job",
			description: "Queue a job to fire on the scheduler's next pass",
			run:         runRunJob,
		},
		"delete-job": {
			name:        "delete-job",
			description: "Delete a scheduled job",
			run:         runDeleteJob,
		},
		"status": {
			name:        "status",
			description: "Report store reachability and schedule summary",
			run:         runStatus,
		},
		"seed-demo": {
			name:        "seed-demo",
			description: "Create demonstration jobs for development",
			run:         runSeedDemo,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: ingestd-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-12s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

// withJobService opens the configured store, wires the minimal job service
// stack on top of it, and hands the service to f. The store and the event
// consumers are torn down when f returns.
func withJobService(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *service.JobService) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, bootstrap.StoreDeps{
		Config: cmdCtx.Config.Store,
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

	jobs, cleanup, err := buildJobService(cmdCtx, store)
	if err != nil {
		return err
	}
	defer cleanup()

	return f(ctx, jobs)
}

// buildJobService wires a JobService over an open store. The CLI runs no
// scheduler loop, so health reports the created state and stats start from
// zero.
func buildJobService(cmdCtx *commandContext, store core.JobStore) (*service.JobService, func(), error) {
	bus := events.NewBus(events.BusOptions{})
	notifier := events.NewChangeNotifier()
	cleanup := func() {
		bus.Close()
		notifier.Close()
	}

	stats, err := service.NewStatsAggregator(service.StatsOptions{
		Bus:    bus,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build stats aggregator: %w", err)
	}

	health, err := service.NewHealthService(service.HealthOptions{
		Store:        store,
		Stats:        stats,
		Scheduler:    detachedScheduler{},
		ArtifactsDir: cmdCtx.Config.Runner.ArtifactsDir,
		Logger:       cmdCtx.Logger,
	})
	if err != nil {
		stats.Close()
		cleanup()
		return nil, nil, fmt.Errorf("build health service: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:    store,
		Notifier: notifier,
		Stats:    stats,
		Health:   health,
		Timezone: cmdCtx.Config.Scheduler.Timezone,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		stats.Close()
		cleanup()
		return nil, nil, fmt.Errorf("build job service: %w", err)
	}

	return jobs, func() {
		stats.Close()
		bus.Close()
		notifier.Close()
	}, nil
}

// detachedScheduler stands in for the scheduler state in CLI processes,
// which never run the loop.
type detachedScheduler struct{}

func (detachedScheduler) State() service.State { return service.StateCreated }

// confirmAction prompts before a destructive operation unless the caller
// passed --yes.
func confirmAction(yes bool, action, target string) error {
	if yes {
		return nil
	}

	if err := writef(os.Stdout, "About to %s %s.\n", action, target); err != nil {
		return fmt.Errorf("print confirmation message: %w", err)
	}
	if err := write(os.Stdout, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stdout, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

// renderJSON marshals v, optionally narrows it with a JMESPath query, and
// returns the indented result. The query runs against the JSON form of v so
// expressions see the same field names the API serves.
func renderJSON(v any, query string) ([]byte, error) {
	payload := v
	if strings.TrimSpace(query) != "" {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode json for query: %w", err)
		}
		result, err := jmespath.Search(query, doc)
		if err != nil {
			return nil, fmt.Errorf("evaluate query %q: %w", query, err)
		}
		payload = result
	}

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return out, nil
}

func printJSON(v any, query string) error {
	out, err := renderJSON(v, query)
	if err != nil {
		return err
	}
	return writef(os.Stdout, "%s\n", out)
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	if len(args) == 0 {
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, args...)
	return err
}

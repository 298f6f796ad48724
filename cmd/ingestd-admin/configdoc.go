package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/service"
)

type exportOptions struct {
	Output string
	Query  string
}

func parseExportFlags(args []string) (exportOptions, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts exportOptions
	fs.StringVar(&opts.Output, "output", "", "Write the document to a file instead of stdout")
	fs.StringVar(&opts.Query, "query", "", "JMESPath expression applied to the document")

	if err := fs.Parse(args); err != nil {
		return exportOptions{}, err
	}

	return opts, nil
}

func runExport(cmdCtx *commandContext, args []string) error {
	opts, err := parseExportFlags(args)
	if err != nil {
		return err
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		doc, exportErr := jobs.ExportConfig(ctx)
		if exportErr != nil {
			return exportErr
		}

		out, renderErr := renderJSON(doc, opts.Query)
		if renderErr != nil {
			return renderErr
		}

		if opts.Output == "" {
			return writef(os.Stdout, "%s\n", out)
		}
		if writeErr := os.WriteFile(opts.Output, append(out, '\n'), 0o600); writeErr != nil {
			return fmt.Errorf("write %s: %w", opts.Output, writeErr)
		}
		cmdCtx.Logger.Info("config document written", "path", opts.Output, "jobs", len(doc.Jobs))
		return nil
	})
}

type importOptions struct {
	Input string
}

func parseImportFlags(args []string) (importOptions, error) {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts importOptions
	fs.StringVar(&opts.Input, "input", "", "Config document to import, or - for stdin (required)")

	if err := fs.Parse(args); err != nil {
		return importOptions{}, err
	}

	if opts.Input == "" {
		return importOptions{}, errors.New("--input is required")
	}

	return opts, nil
}

func runImport(cmdCtx *commandContext, args []string) error {
	opts, err := parseImportFlags(args)
	if err != nil {
		return err
	}

	doc, err := readConfigDocument(opts.Input)
	if err != nil {
		return err
	}

	return withJobService(cmdCtx, defaultCommandTimeout, func(ctx context.Context, jobs *service.JobService) error {
		imported, importErr := jobs.ImportConfig(ctx, doc)
		if writeErr := writef(os.Stdout, "imported %d of %d job(s)\n", imported, len(doc.Jobs)); writeErr != nil {
			cmdCtx.Logger.Warn("print import summary failed", "error", writeErr)
		}
		return importErr
	})
}

// readConfigDocument loads a config document from path, or stdin for "-".
// Unknown fields are rejected, matching the HTTP import endpoint.
func readConfigDocument(path string) (*model.ConfigDocument, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config document: %w", err)
	}

	doc := &model.ConfigDocument{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if decodeErr := dec.Decode(doc); decodeErr != nil {
		return nil, fmt.Errorf("decode config document: %w", decodeErr)
	}
	return doc, nil
}

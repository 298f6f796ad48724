package service

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

//go:embed presets.yaml
var presetsYAML []byte

var presetCatalogue = sync.OnceValues(loadPresetCatalogue)

// presetEntry is one named schedule shape from the embedded catalogue.
type presetEntry struct {
	Description string           `yaml:"description"`
	Schedules   []presetSchedule `yaml:"schedules"`
}

// presetSchedule holds exactly one of a cron expression or a fixed period.
type presetSchedule struct {
	Cron  string         `yaml:"cron"`
	Every presetDuration `yaml:"every"`
}

// presetDuration decodes Go duration strings ("1h", "30m") from YAML.
type presetDuration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *presetDuration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = presetDuration(parsed)
	return nil
}

func loadPresetCatalogue() (map[string]presetEntry, error) {
	var doc struct {
		Presets map[string]presetEntry `yaml:"presets"`
	}
	if err := yaml.Unmarshal(presetsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse preset catalogue: %w", err)
	}
	for name, entry := range doc.Presets {
		if len(entry.Schedules) == 0 {
			return nil, fmt.Errorf("preset %s: no schedules", name)
		}
		for i, sched := range entry.Schedules {
			if (sched.Cron != "") == (sched.Every > 0) {
				return nil, fmt.Errorf("preset %s schedule %d: exactly one of cron or every is required", name, i)
			}
		}
	}
	return doc.Presets, nil
}

// PresetNames returns the catalogue preset names in sorted order.
func PresetNames() []string {
	catalogue, err := presetCatalogue()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateFromPreset creates the jobs a named preset describes, all sharing
// the given pipeline config. Single-schedule presets create one job under
// id; multi-schedule presets derive ids id_1..id_N. Preset jobs coalesce
// missed backlogs by default.
func (s *JobService) CreateFromPreset(ctx context.Context, presetName, id string, config model.PipelineConfig) ([]*model.Job, error) {
	if !model.ValidJobID(id) {
		return nil, apperrors.ValidationField("id", "job id must be non-empty and match [A-Za-z0-9_.-]+")
	}
	catalogue, err := presetCatalogue()
	if err != nil {
		return nil, err
	}
	preset, ok := catalogue[presetName]
	if !ok {
		return nil, apperrors.NotFoundf("preset %q not found (available: %s)",
			presetName, strings.Join(PresetNames(), ", "))
	}

	// Check every derived id up front so a multi-schedule preset does not
	// stop halfway through on a duplicate.
	ids := derivedPresetIDs(id, len(preset.Schedules))
	for _, jobID := range ids {
		_, err := s.store.Get(ctx, jobID)
		switch {
		case err == nil:
			return nil, apperrors.Conflictf("job %s already exists", jobID)
		case apperrors.IsNotFound(err):
		default:
			return nil, fmt.Errorf("check job %s: %w", jobID, err)
		}
	}

	coalesce := true
	jobs := make([]*model.Job, 0, len(preset.Schedules))
	for i, sched := range preset.Schedules {
		var (
			job *model.Job
			err error
		)
		if sched.Cron != "" {
			job, err = s.CreateCronJob(ctx, &model.CreateCronJobRequest{
				ID:         ids[i],
				Name:       presetJobName(preset.Description, ids[i]),
				Expression: sched.Cron,
				Config:     config,
				Coalesce:   &coalesce,
			})
		} else {
			job, err = s.CreateIntervalJob(ctx, &model.CreateIntervalJobRequest{
				ID:       ids[i],
				Name:     presetJobName(preset.Description, ids[i]),
				Seconds:  int(time.Duration(sched.Every) / time.Second),
				Config:   config,
				Coalesce: &coalesce,
			})
		}
		if err != nil {
			if len(jobs) > 0 {
				s.logger.WarnContext(ctx, "preset partially applied",
					"preset", presetName, "created", len(jobs))
			}
			return nil, fmt.Errorf("preset %s job %s: %w", presetName, ids[i], err)
		}
		jobs = append(jobs, job)
	}

	s.logger.InfoContext(ctx, "preset applied", "preset", presetName, "jobs", len(jobs))
	return jobs, nil
}

// derivedPresetIDs returns the ids a preset expands to: id itself for a
// single schedule, id_1..id_N otherwise.
func derivedPresetIDs(id string, n int) []string {
	if n == 1 {
		return []string{id}
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_%d", id, i+1)
	}
	return ids
}

func presetJobName(description, id string) string {
	if description == "" {
		return id
	}
	return description
}

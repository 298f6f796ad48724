package jobrunner

import (
	"strconv"

	"github.com/ragline/ingestd/internal/domain/model"
)

// BuildArgs translates the recognized pipeline configuration keys into
// pipeline_exec flags. Flags are emitted only when the configured value
// differs from the pipeline's own default, keeping argv minimal; keys the
// mapping does not know are left for export round-trips and ignored here.
// The second return lists keys whose values had an unusable type.
func BuildArgs(cfg model.PipelineConfig) ([]string, []string) {
	b := &argvBuilder{cfg: cfg}

	b.boolFlag("force_recreate", "--force-recreate", false)
	b.ciFlag()
	b.boolFlag("dry_run", "--dry-run", false)
	b.incrementalFlag()
	b.stringFlag("data_dir", "--data-dir")
	b.stringFlag("storage_path", "--vector-storage-path")
	b.stringFlag("output_dir", "--output-dir")
	b.stringFlag("collection_name", "--collection-name")
	b.stringFlag("embedding_model", "--embedding-model")
	b.stringFlag("data_dir_pattern", "--data-dir-pattern")
	b.stringFlag("blog_base_url", "--blog-base-url")
	b.stringFlag("base_url", "--base-url")
	b.boolFlag("use_chunking", "--no-chunking", true)
	b.intFlag("chunk_size", "--chunk-size")
	b.intFlag("chunk_overlap", "--chunk-overlap")
	b.boolFlag("should_save_stats", "--no-save-stats", true)
	b.intFlag("batch_size", "--batch-size")
	b.boolFlag("enable_batch_processing", "--disable-batch-processing", true)
	b.boolFlag("enable_performance_monitoring", "--disable-performance-monitoring", true)
	b.boolFlag("adaptive_chunking", "--disable-adaptive-chunking", true)
	b.intFlag("max_backup_files", "--max-backup-files")
	b.stringFlag("checksum_algorithm", "--checksum-algorithm")
	b.stringFlag("metadata_csv_path", "--metadata-file")
	b.boolFlag("health_check", "--health-check", false)
	b.boolFlag("health_check_only", "--health-check-only", false)

	return b.args, b.badKeys
}

type argvBuilder struct {
	cfg     model.PipelineConfig
	args    []string
	badKeys []string
}

// boolFlag emits flag when the configured value differs from the pipeline
// default. Keys defaulting to true map to inverted --no-* / --disable-*
// flags, so "differs" covers both directions.
func (b *argvBuilder) boolFlag(key, flag string, def bool) {
	v, ok := b.cfg[key]
	if !ok {
		return
	}
	val, isBool := v.AsBool()
	if !isBool {
		b.badKeys = append(b.badKeys, key)
		return
	}
	if val != def {
		b.args = append(b.args, flag)
	}
}

// ciFlag handles ci_mode: scheduled runs always pass --ci unless the job
// explicitly opts out.
func (b *argvBuilder) ciFlag() {
	if v, ok := b.cfg["ci_mode"]; ok {
		if val, isBool := v.AsBool(); isBool {
			if val {
				b.args = append(b.args, "--ci")
			}
			return
		}
		b.badKeys = append(b.badKeys, "ci_mode")
	}
	b.args = append(b.args, "--ci")
}

func (b *argvBuilder) incrementalFlag() {
	v, ok := b.cfg["incremental_mode"]
	if !ok {
		return
	}
	mode, isStr := v.AsString()
	if !isStr {
		b.badKeys = append(b.badKeys, "incremental_mode")
		return
	}
	switch mode {
	case "incremental":
		b.args = append(b.args, "--incremental")
	case "incremental_only":
		b.args = append(b.args, "--incremental-only")
	case "incremental_with_fallback":
		b.args = append(b.args, "--incremental-with-fallback")
	case "auto", "":
		// auto is the pipeline default; no flag.
	default:
		b.badKeys = append(b.badKeys, "incremental_mode")
	}
}

func (b *argvBuilder) stringFlag(key, flag string) {
	v, ok := b.cfg[key]
	if !ok {
		return
	}
	val, isStr := v.AsString()
	if !isStr {
		b.badKeys = append(b.badKeys, key)
		return
	}
	b.args = append(b.args, flag, val)
}

func (b *argvBuilder) intFlag(key, flag string) {
	v, ok := b.cfg[key]
	if !ok {
		return
	}
	val, isInt := v.AsInt()
	if !isInt {
		b.badKeys = append(b.badKeys, key)
		return
	}
	b.args = append(b.args, flag, strconv.FormatInt(val, 10))
}

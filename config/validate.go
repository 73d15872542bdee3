package config

import (
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	for _, check := range []func() error{
		c.validatePipeline,
		c.validateQueues,
		c.validateBackend,
		c.validateStore,
		c.validateLogging,
		c.validateMetrics,
		c.validateArchive,
	} {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	msg := field + " " + fmt.Sprintf(format, args...)
	return goerrors.New(msg, goerrors.CategoryBadInput).
		WithMetadata(map[string]any{"field": field})
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if p.SignaturesBatchSize < 1 {
		return invalid("pipeline.signatures_batch_size", "must be at least 1")
	}
	if p.ValidationsBatchSize < 1 {
		return invalid("pipeline.validations_batch_size", "must be at least 1")
	}
	if p.BulkChunkSize < 1 {
		return invalid("pipeline.bulk_chunk_size", "must be at least 1")
	}
	if p.DedupeChunkSize < 1 {
		return invalid("pipeline.dedupe_chunk_size", "must be at least 1")
	}
	if p.MinSignatureLifetimeDays < 1 {
		return invalid("pipeline.min_signature_lifetime_days", "must be at least 1")
	}
	return nil
}

func (c *Config) validateQueues() error {
	q := c.Queues
	names := map[string]string{
		"queues.signatures":  q.Signatures,
		"queues.validations": q.Validations,
		"queues.handoff":     q.Handoff,
	}
	for field, name := range names {
		if name == "" {
			return invalid(field, "must be set")
		}
	}
	if q.Signatures == q.Handoff {
		return invalid("queues.handoff", "must differ from queues.signatures")
	}
	return nil
}

func (c *Config) validateBackend() error {
	switch c.Queues.Backend {
	case BackendSQL:
		if err := validateDatabase("sql", c.SQL.Database); err != nil {
			return err
		}
		if c.SQL.LeaseSeconds < 1 {
			return invalid("sql.lease_seconds", "must be at least 1")
		}
		if c.SQL.MaxBatch < 1 {
			return invalid("sql.max_batch", "must be at least 1")
		}
	case BackendSQS:
		if c.SQS.WaitTimeSeconds < 0 || c.SQS.WaitTimeSeconds > 20 {
			return invalid("sqs.wait_time_seconds", "must be between 0 and 20")
		}
		if c.SQS.VisibilityTimeoutSeconds < 0 || c.SQS.VisibilityTimeoutSeconds > 43200 {
			return invalid("sqs.visibility_timeout_seconds", "must be between 0 and 43200")
		}
	case BackendDocument:
		if strings.TrimSpace(c.Document.Dir) == "" {
			return invalid("document.dir", "must be set")
		}
		if c.Document.LeaseSeconds < 1 {
			return invalid("document.lease_seconds", "must be at least 1")
		}
	default:
		return invalid("queues.backend", "must be one of sql, sqs, document (got %q)", c.Queues.Backend)
	}
	return nil
}

func validateDatabase(section string, db Database) error {
	switch db.Driver {
	case "sqlite3", "sqlite", "postgres", "postgresql", "pg":
	default:
		return invalid(section+".driver", "must be sqlite3 or postgres (got %q)", db.Driver)
	}
	if strings.TrimSpace(db.DSN) == "" {
		return invalid(section+".dsn", "must be set")
	}
	return nil
}

func (c *Config) validateStore() error {
	return validateDatabase("store", c.Store)
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "auto", "text", "json":
	default:
		return invalid("logging.format", "must be auto, text or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", "is not a known level (got %q)", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	switch c.Metrics.Exporter {
	case ExporterNone:
		return nil
	case ExporterStdout:
	default:
		return invalid("metrics.exporter", "must be none or stdout (got %q)", c.Metrics.Exporter)
	}
	if c.Metrics.IntervalSeconds < 1 {
		return invalid("metrics.interval_seconds", "must be at least 1 (got %d)", c.Metrics.IntervalSeconds)
	}
	return nil
}

func (c *Config) validateArchive() error {
	if !c.Archive.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Archive.Bucket) == "" {
		return invalid("archive.bucket", "must be set when archive.enabled is true")
	}
	switch c.Archive.Compression {
	case "", "none", "snappy", "gzip", "zstd":
	default:
		return invalid("archive.compression", "must be none, snappy, gzip or zstd (got %q)", c.Archive.Compression)
	}
	if c.Archive.UploadAttempts < 1 {
		return invalid("archive.upload_attempts", "must be at least 1 (got %d)", c.Archive.UploadAttempts)
	}
	return nil
}

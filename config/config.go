// Package config loads the preprocessor's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/baldanca/petition-preprocessor/archive"
	"github.com/baldanca/petition-preprocessor/claimer"
	"github.com/baldanca/petition-preprocessor/dedupe"
	"github.com/baldanca/petition-preprocessor/logging"
	"github.com/baldanca/petition-preprocessor/persister"
	"github.com/baldanca/petition-preprocessor/pipeline"
	"github.com/baldanca/petition-preprocessor/queue"
)

// Metric exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Queue backends.
const (
	BackendSQL      = "sql"
	BackendSQS      = "sqs"
	BackendDocument = "document"
)

// Pipeline holds batch sizing and retention settings.
type Pipeline struct {
	SignaturesBatchSize      int `toml:"signatures_batch_size"`
	ValidationsBatchSize     int `toml:"validations_batch_size"`
	BulkChunkSize            int `toml:"bulk_chunk_size"`
	DedupeChunkSize          int `toml:"dedupe_chunk_size"`
	MinSignatureLifetimeDays int `toml:"min_signature_lifetime_days"`
}

// Queues names the three queues and selects their backend.
type Queues struct {
	Backend     string `toml:"backend"`
	Signatures  string `toml:"signatures"`
	Validations string `toml:"validations"`
	Handoff     string `toml:"handoff"`
}

// Database is a bun connection.
type Database struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// SQL configures the relational queue backend.
type SQL struct {
	Database
	LeaseSeconds int `toml:"lease_seconds"`
	MaxBatch     int `toml:"max_batch"`
}

// SQS configures the managed queue backend.
type SQS struct {
	Region                   string `toml:"region"`
	Endpoint                 string `toml:"endpoint"`
	WaitTimeSeconds          int    `toml:"wait_time_seconds"`
	VisibilityTimeoutSeconds int    `toml:"visibility_timeout_seconds"`
}

// Document configures the embedded document-store backend.
type Document struct {
	Dir          string `toml:"dir"`
	LeaseSeconds int    `toml:"lease_seconds"`
}

type Logging struct {
	// Format is text, json or auto (text on a terminal, json otherwise).
	Format string `toml:"format"`
	Level  string `toml:"level"`
	Debug  bool   `toml:"debug"`
}

// Metrics selects where OpenTelemetry metrics are exported. With "none" the
// events still reach the log and the run summary.
type Metrics struct {
	Exporter        string `toml:"exporter"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

// Interval is the export period of the periodic reader.
func (m Metrics) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// Archive configures the optional parquet copy of persisted validations.
type Archive struct {
	Enabled     bool   `toml:"enabled"`
	Bucket      string `toml:"bucket"`
	Prefix      string `toml:"prefix"`
	KeyPrefix   string `toml:"key_prefix"`
	Compression string `toml:"compression"`
	Region      string `toml:"region"`
	Endpoint    string `toml:"endpoint"`

	// UploadAttempts bounds the puts per archived batch.
	UploadAttempts int `toml:"upload_attempts"`
}

// Config encapsulates every setting of the preprocessor.
//
// Sections:
//   - Pipeline: batch sizes, chunk sizes, signature lifetime
//   - Queues: queue names and backend selection
//   - SQL, SQS, Document: backend specific settings
//   - Store: destination database
//   - Logging: format, level and debug toggle
//   - Metrics: OpenTelemetry exporter
//   - Archive: optional S3 parquet archive
type Config struct {
	Pipeline Pipeline `toml:"pipeline"`
	Queues   Queues   `toml:"queues"`
	SQL      SQL      `toml:"sql"`
	SQS      SQS      `toml:"sqs"`
	Document Document `toml:"document"`
	Store    Database `toml:"store"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
	Archive  Archive  `toml:"archive"`
}

// Default returns a configuration that runs against a local sqlite file.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			SignaturesBatchSize:      pipeline.DefaultConfig.SignaturesBatchSize,
			ValidationsBatchSize:     pipeline.DefaultConfig.ValidationsBatchSize,
			BulkChunkSize:            claimer.DefaultConfig.BulkChunk,
			DedupeChunkSize:          dedupe.DefaultChunkSize,
			MinSignatureLifetimeDays: 14,
		},
		Queues: Queues{
			Backend:     BackendSQL,
			Signatures:  "signatures",
			Validations: "validations",
			Handoff:     "validation-processor",
		},
		SQL: SQL{
			Database:     Database{Driver: "sqlite3", DSN: "file:preprocessor.db"},
			LeaseSeconds: int(queue.DefaultSQLConfig.Lease / time.Second),
			MaxBatch:     queue.DefaultSQLConfig.MaxBatch,
		},
		SQS: SQS{
			WaitTimeSeconds:          int(queue.DefaultSQSConfig.WaitTimeSeconds),
			VisibilityTimeoutSeconds: int(queue.DefaultSQSConfig.VisibilityTO),
		},
		Document: Document{
			Dir:          "preprocessor-queues",
			LeaseSeconds: int(queue.DefaultDocumentConfig.Lease / time.Second),
		},
		Store: Database{Driver: "sqlite3", DSN: "file:preprocessor.db"},
		Logging: Logging{
			Format: "auto",
			Level:  "info",
		},
		Metrics: Metrics{
			Exporter:        ExporterNone,
			IntervalSeconds: 60,
		},
		Archive: Archive{
			KeyPrefix:      archive.DefaultConfig.Prefix,
			Compression:    "snappy",
			UploadAttempts: archive.DefaultConfig.Upload.Attempts,
		},
	}
}

// Load parses, normalizes and validates the file at path. Settings missing
// from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that an empty path yields the validated
// defaults.
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) != "" {
		return Load(path)
	}
	cfg := Default()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Encode renders c as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		SignaturesBatchSize:  c.Pipeline.SignaturesBatchSize,
		ValidationsBatchSize: c.Pipeline.ValidationsBatchSize,
	}
}

func (c *Config) ClaimerConfig() claimer.Config {
	return claimer.Config{BulkChunk: c.Pipeline.BulkChunkSize}
}

func (c *Config) PersisterConfig() persister.Config {
	return persister.Config{
		MinSignatureLifetime: time.Duration(c.Pipeline.MinSignatureLifetimeDays) * 24 * time.Hour,
	}
}

func (c *Config) SQLQueueConfig() queue.SQLConfig {
	return queue.SQLConfig{
		Lease:    time.Duration(c.SQL.LeaseSeconds) * time.Second,
		MaxBatch: c.SQL.MaxBatch,
	}
}

func (c *Config) SQSQueueConfig() queue.SQSConfig {
	return queue.SQSConfig{
		WaitTimeSeconds: int32(c.SQS.WaitTimeSeconds),
		VisibilityTO:    int32(c.SQS.VisibilityTimeoutSeconds),
	}
}

func (c *Config) DocumentQueueConfig() queue.DocumentConfig {
	return queue.DocumentConfig{Lease: time.Duration(c.Document.LeaseSeconds) * time.Second}
}

func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Format: c.Logging.Format,
		Level:  c.Logging.Level,
		Debug:  c.Logging.Debug,
	}
}

func (c *Config) ArchiveConfig() archive.Config {
	upload := archive.DefaultConfig.Upload
	upload.Attempts = c.Archive.UploadAttempts
	return archive.Config{Prefix: c.Archive.KeyPrefix, Upload: upload}
}

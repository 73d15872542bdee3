// Package archive copies persisted validation batches to object storage as
// parquet files.
package archive

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/baldanca/petition-preprocessor/encoder"
	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/sanitizer"
	"github.com/baldanca/petition-preprocessor/schema"
	"github.com/baldanca/petition-preprocessor/sink"
)

const component = "archive"

// ValidationRecord is one archived signature_validations row. Timestamps are
// kept as RFC3339 strings, empty when unset.
type ValidationRecord struct {
	SecretValidationKey string `parquet:"secret_validation_key"`
	PetitionID          int64  `parquet:"petition_id"`
	SignatureID         int64  `parquet:"signature_id"`
	Email               string `parquet:"email"`
	FirstName           string `parquet:"first_name"`
	LastName            string `parquet:"last_name"`
	Zip                 string `parquet:"zip"`
	Source              string `parquet:"source"`
	IPAddress           string `parquet:"ip_address"`
	ValidatedAt         string `parquet:"validated_at"`
	ValidationClose     string `parquet:"validation_close"`
}

func FromPayload(p queue.Payload) ValidationRecord {
	return ValidationRecord{
		SecretValidationKey: text(p[queue.KeyField]),
		PetitionID:          sanitizer.Integer(p["petition_id"]),
		SignatureID:         sanitizer.Integer(p["signature_id"]),
		Email:               text(p["email"]),
		FirstName:           text(p["first_name"]),
		LastName:            text(p["last_name"]),
		Zip:                 text(p["zip"]),
		Source:              text(p["source"]),
		IPAddress:           text(p["ip_address"]),
		ValidatedAt:         stamp(p["validated_at"]),
		ValidationClose:     stamp(p["validation_close"]),
	}
}

func text(v any) string {
	s, _ := v.(string)
	return s
}

func stamp(v any) string {
	switch x := sanitizer.Timestamp(v).(type) {
	case time.Time:
		return x.Format(time.RFC3339)
	case string:
		return x
	default:
		return ""
	}
}

type Config struct {
	// Prefix is the first key segment, before the hourly partition.
	Prefix string
	// Upload governs retries of the object write; encoding is not retried.
	Upload Backoff
}

var DefaultConfig = Config{Prefix: "validations", Upload: DefaultBackoff}

type Archiver struct {
	cfg  Config
	enc  encoder.Encoder[ValidationRecord]
	sink sink.Sink
	rec  metrics.Recorder
	log  glog.Logger
	now  func() time.Time
}

func New(cfg Config, enc encoder.Encoder[ValidationRecord], s sink.Sink, rec metrics.Recorder, logger glog.Logger) (*Archiver, error) {
	if enc == nil {
		return nil, fmt.Errorf("encoder is nil")
	}
	if s == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig.Prefix
	}
	return &Archiver{
		cfg:  cfg,
		enc:  enc,
		sink: s,
		rec:  metrics.Ensure(rec),
		log:  glog.Ensure(logger),
		now:  time.Now,
	}, nil
}

// Key returns the object key for a batch archived at t.
func (a *Archiver) Key(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%d-%s%s",
		a.cfg.Prefix, t.Year(), int(t.Month()), t.Day(), t.Hour(),
		t.UnixNano(), uuid.NewString(), a.enc.FileExtension())
}

// Archive encodes payloads and writes them as one object.
func (a *Archiver) Archive(ctx context.Context, table schema.Table, payloads []queue.Payload) error {
	if len(payloads) == 0 {
		return nil
	}
	if table != schema.SignatureValidations {
		return fmt.Errorf("archive: table %s is not archived", table)
	}

	rows := make([]ValidationRecord, len(payloads))
	for i, p := range payloads {
		rows[i] = FromPayload(p)
	}

	err := a.write(ctx, rows)
	if err != nil {
		a.rec.Count(ctx, metrics.Name(component, string(table), "errors"), 1)
		return err
	}
	a.rec.Count(ctx, metrics.Name(component, string(table), "objects"), 1)
	return nil
}

func (a *Archiver) write(ctx context.Context, rows []ValidationRecord) error {
	data, err := a.enc.Encode(ctx, rows)
	if err != nil {
		return fmt.Errorf("archive encode: %w", err)
	}
	key := a.Key(a.now())
	obj := sink.Object{
		Key:         key,
		Body:        data,
		ContentType: a.enc.ContentType(),
		Metadata:    map[string]string{"rows": strconv.Itoa(len(rows))},
	}
	attempts := 0
	err = a.cfg.Upload.do(ctx, func(ctx context.Context) error {
		attempts++
		return a.sink.Put(ctx, obj)
	})
	a.rec.Count(ctx, metrics.Name(component, string(schema.SignatureValidations), "upload_attempts"), int64(attempts))
	if err != nil {
		return fmt.Errorf("archive put: %w", err)
	}
	a.log.WithContext(ctx).Debug("archived batch", "key", key, "rows", len(rows), "bytes", len(data))
	return nil
}

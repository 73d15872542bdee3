// Package persister writes a sanitized batch to a destination table in one
// atomic multi-row insert.
package persister

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-logger/glog"

	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/sanitizer"
	"github.com/baldanca/petition-preprocessor/schema"
)

const component = "persister"

// ValidationCloseField is the expiry column attached to validation rows.
const ValidationCloseField = "validation_close"

// Inserter is the write half of a destination store.
type Inserter interface {
	InsertBatch(ctx context.Context, table schema.Table, rows []map[string]any) error
}

type Config struct {
	// MinSignatureLifetime is added to the persist time to compute
	// validation_close.
	MinSignatureLifetime time.Duration
}

var DefaultConfig = Config{MinSignatureLifetime: 14 * 24 * time.Hour}

type Persister struct {
	cfg Config
	dst Inserter
	rec metrics.Recorder
	log glog.Logger
	now func() time.Time
}

func New(cfg Config, dst Inserter, rec metrics.Recorder, logger glog.Logger) (*Persister, error) {
	if dst == nil {
		return nil, fmt.Errorf("inserter is nil")
	}
	if cfg.MinSignatureLifetime <= 0 {
		cfg.MinSignatureLifetime = DefaultConfig.MinSignatureLifetime
	}
	return &Persister{
		cfg: cfg,
		dst: dst,
		rec: metrics.Ensure(rec),
		log: glog.Ensure(logger),
		now: time.Now,
	}, nil
}

// Persist inserts payloads into table. Validation rows get validation_close
// set to now plus the minimum signature lifetime, truncated to seconds.
// Columns the payload lacks are written as NULL and fields outside the
// schema are dropped. No retry is attempted.
//
// On success the rows exactly as written are returned.
func (p *Persister) Persist(ctx context.Context, table schema.Table, payloads []queue.Payload) ([]queue.Payload, error) {
	s, err := schema.Lookup(table)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, nil
	}

	var expiry time.Time
	if table == schema.SignatureValidations {
		expiry = p.now().UTC().Add(p.cfg.MinSignatureLifetime).Truncate(time.Second)
	}

	cols := s.Insertable()
	written := make([]queue.Payload, len(payloads))
	rows := make([]map[string]any, len(payloads))
	for i, pl := range payloads {
		pl = sanitizer.Restrict(s, pl)
		if !expiry.IsZero() {
			pl[ValidationCloseField] = expiry
		}
		r := make(map[string]any, len(cols))
		for _, c := range cols {
			r[c] = pl[c]
		}
		rows[i] = r
		written[i] = r
	}

	if err := p.dst.InsertBatch(ctx, table, rows); err != nil {
		p.rec.Count(ctx, metrics.Name(component, string(table), "errors"), 1)
		p.log.WithContext(ctx).Error("batch insert failed",
			"table", string(table),
			"rows", len(rows),
			"error", err,
		)
		return nil, fmt.Errorf("persist %s: %w", table, err)
	}

	p.rec.Count(ctx, metrics.Name(component, string(table), "inserted"), int64(len(rows)))
	p.log.WithContext(ctx).Debug("batch inserted", "table", string(table), "rows", len(rows))
	return written, nil
}

// Package pipeline runs the two preprocessing stages.
//
// Stage A moves newly signed petitions from the signatures queue to the
// validation processor queue one item at a time. Stage B moves confirmed
// validations into the signature_validations table as one atomic batch.
// Items are only deleted from a source queue after their write succeeded;
// anything else is left to lease expiry and picked up by a later run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-logger/glog"

	"github.com/baldanca/petition-preprocessor/claimer"
	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/sanitizer"
	"github.com/baldanca/petition-preprocessor/schema"
)

const (
	component = "pipeline"

	StageSignatures  = "signatures"
	StageValidations = "validations"
)

type Config struct {
	SignaturesBatchSize  int
	ValidationsBatchSize int
}

var DefaultConfig = Config{
	SignaturesBatchSize:  100,
	ValidationsBatchSize: 100,
}

func (c Config) Validate() error {
	if c.SignaturesBatchSize < 1 {
		return fmt.Errorf("signatures batch size must be at least 1")
	}
	if c.ValidationsBatchSize < 1 {
		return fmt.Errorf("validations batch size must be at least 1")
	}
	return nil
}

type Deduplicator interface {
	Dedupe(ctx context.Context, table schema.Table, items map[string]queue.Item) (map[string]queue.Item, error)
}

type Persister interface {
	Persist(ctx context.Context, table schema.Table, payloads []queue.Payload) ([]queue.Payload, error)
}

// Archiver receives every successfully persisted validation batch. Its
// failures never block queue deletion.
type Archiver interface {
	Archive(ctx context.Context, table schema.Table, rows []queue.Payload) error
}

type Deps struct {
	// Signatures is the Stage A source queue.
	Signatures queue.Backend
	// Handoff is the validation processor queue Stage A writes to.
	Handoff queue.Backend
	// Validations is the Stage B source queue.
	Validations queue.Backend

	Claimer      *claimer.Claimer
	Deduplicator Deduplicator
	Persister    Persister
	Archiver     Archiver // optional

	Recorder metrics.Recorder
	Logger   glog.Logger
}

type StageReport struct {
	Claimed    int
	Dropped    int
	Duplicates int
	// Written is the number of hand-offs (Stage A) or inserted rows (Stage B).
	Written  int
	Failed   int
	Removed  int
	Duration time.Duration
}

type Report struct {
	Signatures  StageReport
	Validations StageReport
}

type Pipeline struct {
	cfg  Config
	deps Deps
	rec  metrics.Recorder
	log  glog.Logger
	now  func() time.Time
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Signatures == nil:
		return nil, fmt.Errorf("signatures queue is nil")
	case deps.Handoff == nil:
		return nil, fmt.Errorf("handoff queue is nil")
	case deps.Validations == nil:
		return nil, fmt.Errorf("validations queue is nil")
	case deps.Claimer == nil:
		return nil, fmt.Errorf("claimer is nil")
	case deps.Deduplicator == nil:
		return nil, fmt.Errorf("deduplicator is nil")
	case deps.Persister == nil:
		return nil, fmt.Errorf("persister is nil")
	}
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		rec:  metrics.Ensure(deps.Recorder),
		log:  glog.Ensure(deps.Logger),
		now:  time.Now,
	}, nil
}

// Run executes Stage A then Stage B. A Stage A failure does not prevent
// Stage B from running; both errors are returned joined.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	var rep Report
	var errs []error

	sig, err := p.PreprocessSignatures(ctx)
	rep.Signatures = sig
	if err != nil {
		p.log.WithContext(ctx).Error("signatures stage failed", "error", err)
		errs = append(errs, fmt.Errorf("stage %s: %w", StageSignatures, err))
	}

	val, err := p.PreprocessValidations(ctx)
	rep.Validations = val
	if err != nil {
		p.log.WithContext(ctx).Error("validations stage failed", "error", err)
		errs = append(errs, fmt.Errorf("stage %s: %w", StageValidations, err))
	}

	return rep, errors.Join(errs...)
}

// PreprocessSignatures hands each claimed signature to the validation
// processor queue. Items whose hand-off succeeded are deleted together with
// the keyless items of the batch; a failed hand-off is logged and the item
// stays leased until it expires.
func (p *Pipeline) PreprocessSignatures(ctx context.Context) (rep StageReport, err error) {
	start := p.now()
	defer func() { rep.Duration = p.finish(ctx, StageSignatures, start) }()

	src := p.deps.Signatures
	batch, err := p.deps.Claimer.ClaimBatch(ctx, src, p.cfg.SignaturesBatchSize)
	if err != nil {
		return rep, err
	}
	rep.Claimed = len(batch.Items) + len(batch.Superseded) + len(batch.Dropped)
	rep.Dropped = len(batch.Dropped)
	if batch.Empty() {
		return rep, nil
	}

	s := schema.MustLookup(schema.SignaturesPending)
	superseded := byKey(batch.Superseded)
	// keyless items can never be handed off; they leave with this batch
	done := make([]queue.Item, 0, rep.Claimed)
	done = append(done, batch.Dropped...)

	for _, key := range sortedKeys(batch.Items) {
		it := batch.Items[key]
		payload := sanitizer.Restrict(s, sanitizer.Sanitize(s, it.Payload))
		if err := p.deps.Handoff.Enqueue(ctx, payload); err != nil {
			rep.Failed++
			p.rec.Count(ctx, metrics.Name(component, src.Name(), "handoff_errors"), 1)
			p.log.WithContext(ctx).Error("signature hand-off failed",
				"queue", src.Name(),
				"handoff_queue", p.deps.Handoff.Name(),
				"item_id", it.ID,
				"error", err,
			)
			continue
		}
		rep.Written++
		p.observeLatency(ctx, src.Name(), it)
		done = append(done, it)
		done = append(done, superseded[key]...)
	}
	p.rec.Count(ctx, metrics.Name(component, p.deps.Handoff.Name(), "added"), int64(rep.Written))

	if err := p.deps.Claimer.Delete(ctx, src, done); err != nil {
		return rep, err
	}
	rep.Removed = len(done)
	p.rec.Count(ctx, metrics.Name(component, src.Name(), "removed"), int64(rep.Removed))
	return rep, nil
}

// PreprocessValidations dedupes, sanitizes and inserts a claimed batch of
// validations in one statement. The whole claimed batch is deleted only when
// the insert succeeded. A batch that dedupes to nothing is deleted as well.
func (p *Pipeline) PreprocessValidations(ctx context.Context) (rep StageReport, err error) {
	start := p.now()
	defer func() { rep.Duration = p.finish(ctx, StageValidations, start) }()

	src := p.deps.Validations
	table := schema.SignatureValidations

	batch, err := p.deps.Claimer.ClaimBatch(ctx, src, p.cfg.ValidationsBatchSize)
	if err != nil {
		return rep, err
	}
	claimed := batch.Claimed()
	rep.Claimed = len(claimed)
	rep.Dropped = len(batch.Dropped)
	if batch.Empty() {
		return rep, nil
	}

	fresh, err := p.deps.Deduplicator.Dedupe(ctx, table, batch.Items)
	if err != nil {
		return rep, err
	}
	rep.Duplicates = len(batch.Items) - len(fresh)

	s := schema.MustLookup(table)
	keys := sortedKeys(fresh)
	payloads := make([]queue.Payload, len(keys))
	for i, k := range keys {
		payloads[i] = sanitizer.Sanitize(s, fresh[k].Payload)
	}

	written, err := p.deps.Persister.Persist(ctx, table, payloads)
	if err != nil {
		rep.Failed = len(payloads)
		return rep, err
	}
	rep.Written = len(written)
	for _, k := range keys {
		p.observeLatency(ctx, src.Name(), fresh[k])
	}

	if p.deps.Archiver != nil && len(written) > 0 {
		if err := p.deps.Archiver.Archive(ctx, table, written); err != nil {
			p.log.WithContext(ctx).Warn("archive failed, batch already persisted", "table", string(table), "rows", len(written), "error", err)
		}
	}

	if err := p.deps.Claimer.Delete(ctx, src, claimed); err != nil {
		return rep, err
	}
	rep.Removed = len(claimed)
	p.rec.Count(ctx, metrics.Name(component, src.Name(), "removed"), int64(rep.Removed))
	p.log.WithContext(ctx).Info("validations preprocessed",
		"queue", src.Name(),
		"claimed", rep.Claimed,
		"duplicates", rep.Duplicates,
		"inserted", rep.Written,
	)
	return rep, nil
}

func (p *Pipeline) finish(ctx context.Context, stage string, start time.Time) time.Duration {
	d := p.now().Sub(start)
	p.rec.Timing(ctx, metrics.Name(component, stage, "duration"), d)
	return d
}

func (p *Pipeline) observeLatency(ctx context.Context, queueName string, it queue.Item) {
	raw, _ := it.Payload[claimer.ObservedAtField].(string)
	observed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return
	}
	p.rec.Timing(ctx, metrics.Name(component, queueName, "item_latency"), p.now().Sub(observed))
}

func sortedKeys(items map[string]queue.Item) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func byKey(items []queue.Item) map[string][]queue.Item {
	out := make(map[string][]queue.Item, len(items))
	for _, it := range items {
		if k, ok := sanitizer.Key(it.Payload); ok {
			out[k] = append(out[k], it)
		}
	}
	return out
}

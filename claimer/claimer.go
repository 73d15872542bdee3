// Package claimer pulls a bounded batch of items out of a queue backend and
// keys them by their uniqueness key.
package claimer

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-logger/glog"

	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/sanitizer"
)

// ObservedAtField is stamped on every claimed payload with the claim time.
const ObservedAtField = "preprocessing_observed_at"

const component = "claimer"

type Config struct {
	// BulkChunk caps each ClaimMany request. The effective chunk is
	// min(BulkChunk, backend MaxBatch()).
	BulkChunk int
}

var DefaultConfig = Config{BulkChunk: 10}

func (c Config) normalize() Config {
	if c.BulkChunk < 1 {
		c.BulkChunk = DefaultConfig.BulkChunk
	}
	return c
}

// Batch is the result of one claim.
//
// Items holds the last claimed item per key, with the key rewritten to its
// stored form (see sanitizer.Key). Superseded holds earlier claims
// of a key that a later claim replaced, and Dropped holds claimed items with
// no usable key. All three are leased and must be deleted together once the
// batch is durable.
type Batch struct {
	Items      map[string]queue.Item
	Superseded []queue.Item
	Dropped    []queue.Item
}

func (b Batch) Empty() bool {
	return len(b.Items) == 0 && len(b.Superseded) == 0 && len(b.Dropped) == 0
}

// Claimed returns every leased item of the batch.
func (b Batch) Claimed() []queue.Item {
	out := make([]queue.Item, 0, len(b.Items)+len(b.Superseded)+len(b.Dropped))
	for _, it := range b.Items {
		out = append(out, it)
	}
	out = append(out, b.Superseded...)
	out = append(out, b.Dropped...)
	return out
}

type Claimer struct {
	cfg Config
	rec metrics.Recorder
	log glog.Logger
	now func() time.Time
}

func New(cfg Config, rec metrics.Recorder, logger glog.Logger) *Claimer {
	return &Claimer{
		cfg: cfg.normalize(),
		rec: metrics.Ensure(rec),
		log: glog.Ensure(logger),
		now: time.Now,
	}
}

// ClaimBatch claims up to batchSize items from b.
//
// An empty queue (by Count) returns an empty batch without issuing any claim
// request. Backend errors abort the claim; items leased before the failure are
// left to lease expiry.
func (c *Claimer) ClaimBatch(ctx context.Context, b queue.Backend, batchSize int) (Batch, error) {
	name := b.Name()
	batch := Batch{Items: map[string]queue.Item{}}

	depth, err := b.Count(ctx)
	if err != nil {
		return batch, fmt.Errorf("claim %s: count: %w", name, err)
	}
	c.rec.Gauge(ctx, metrics.Name(component, name, "depth"), depth)
	if depth == 0 || batchSize < 1 {
		c.rec.Count(ctx, metrics.Name(component, name, "caught_up"), 1)
		c.log.WithContext(ctx).Debug("queue caught up", "queue", name)
		return batch, nil
	}

	claimed, err := c.claim(ctx, b, batchSize)
	if err != nil {
		return batch, fmt.Errorf("claim %s: %w", name, err)
	}

	observed := c.now().UTC().Format(time.RFC3339Nano)
	for _, it := range claimed {
		if it.Payload == nil {
			// unparseable body; still leased, so it goes with the batch
			batch.Dropped = append(batch.Dropped, it)
			continue
		}
		key, ok := sanitizer.Key(it.Payload)
		if !ok {
			batch.Dropped = append(batch.Dropped, it)
			continue
		}
		it.Payload = it.Payload.Clone()
		it.Payload[queue.KeyField] = key
		it.Payload[ObservedAtField] = observed
		if prev, dup := batch.Items[key]; dup {
			batch.Superseded = append(batch.Superseded, prev)
		}
		batch.Items[key] = it
	}

	c.rec.Count(ctx, metrics.Name(component, name, "claimed"), int64(len(claimed)))
	if n := len(batch.Dropped); n > 0 {
		c.rec.Count(ctx, metrics.Name(component, name, "dropped"), int64(n))
		c.log.WithContext(ctx).Warn("dropped claimed items without key", "queue", name, "count", n)
	}
	c.rec.Gauge(ctx, metrics.Name(component, name, "batch_size"), int64(len(batch.Items)))
	c.log.WithContext(ctx).Debug("claimed batch",
		"queue", name,
		"claimed", len(claimed),
		"keys", len(batch.Items),
		"superseded", len(batch.Superseded),
	)
	return batch, nil
}

func (c *Claimer) claim(ctx context.Context, b queue.Backend, batchSize int) ([]queue.Item, error) {
	out := make([]queue.Item, 0, batchSize)

	if bulk, ok := queue.AsBulk(b); ok {
		chunk := min(c.cfg.BulkChunk, bulk.MaxBatch())
		for len(out) < batchSize {
			items, err := bulk.ClaimMany(ctx, min(chunk, batchSize-len(out)))
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				break
			}
			out = append(out, items...)
		}
		return out, nil
	}

	for len(out) < batchSize {
		it, ok, err := b.ClaimOne(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, it)
	}
	return out, nil
}

// Delete removes items from b, in bulk when the backend supports it.
func (c *Claimer) Delete(ctx context.Context, b queue.Backend, items []queue.Item) error {
	if len(items) == 0 {
		return nil
	}
	if bulk, ok := queue.AsBulk(b); ok {
		if err := bulk.DeleteMany(ctx, items); err != nil {
			return fmt.Errorf("delete %s: %w", b.Name(), err)
		}
		return nil
	}
	for _, it := range items {
		if err := b.DeleteOne(ctx, it); err != nil {
			return fmt.Errorf("delete %s id=%s: %w", b.Name(), it.ID, err)
		}
	}
	return nil
}

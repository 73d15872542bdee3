// Package dedupe removes claimed items whose key is already persisted.
package dedupe

import (
	"context"
	"fmt"
	"sort"

	"github.com/goliatone/go-logger/glog"

	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/schema"
)

const component = "deduplicator"

// DefaultChunkSize bounds the number of keys per lookup query.
const DefaultChunkSize = 50

// KeyLookup reports which of keys already exist in table.
type KeyLookup interface {
	ExistingKeys(ctx context.Context, table schema.Table, keys []string) ([]string, error)
}

type Deduplicator struct {
	lookup    KeyLookup
	chunkSize int
	rec       metrics.Recorder
	log       glog.Logger
}

func New(lookup KeyLookup, chunkSize int, rec metrics.Recorder, logger glog.Logger) (*Deduplicator, error) {
	if lookup == nil {
		return nil, fmt.Errorf("lookup is nil")
	}
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &Deduplicator{
		lookup:    lookup,
		chunkSize: chunkSize,
		rec:       metrics.Ensure(rec),
		log:       glog.Ensure(logger),
	}, nil
}

// Dedupe returns the items whose key is not yet present in table. The input
// map is not modified. Keys are looked up in sorted chunks so the query count
// is ceil(len(items)/chunkSize).
func (d *Deduplicator) Dedupe(ctx context.Context, table schema.Table, items map[string]queue.Item) (map[string]queue.Item, error) {
	if _, err := schema.Lookup(table); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	existing := make(map[string]struct{})
	lookups := 0
	for i := 0; i < len(keys); i += d.chunkSize {
		end := min(i+d.chunkSize, len(keys))
		found, err := d.lookup.ExistingKeys(ctx, table, keys[i:end])
		lookups++
		if err != nil {
			return nil, fmt.Errorf("dedupe %s: %w", table, err)
		}
		for _, k := range found {
			existing[k] = struct{}{}
		}
	}

	out := make(map[string]queue.Item, len(items))
	dupes := 0
	for k, it := range items {
		if _, ok := existing[k]; ok {
			dupes++
			continue
		}
		out[k] = it
	}

	d.rec.Count(ctx, metrics.Name(component, string(table), "lookups"), int64(lookups))
	d.rec.Count(ctx, metrics.Name(component, string(table), "duplicates"), int64(dupes))
	if dupes > 0 {
		d.log.WithContext(ctx).Info("removed already persisted keys", "table", string(table), "duplicates", dupes, "remaining", len(out))
	}
	return out, nil
}

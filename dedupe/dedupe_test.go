package dedupe

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"testing"

	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
	"github.com/baldanca/petition-preprocessor/schema"
)

type fakeLookup struct {
	existing map[string]bool
	err      error
	calls    [][]string
}

func (f *fakeLookup) ExistingKeys(_ context.Context, _ schema.Table, keys []string) ([]string, error) {
	f.calls = append(f.calls, append([]string(nil), keys...))
	if f.err != nil {
		return nil, f.err
	}
	var out []string
	for _, k := range keys {
		if f.existing[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func itemsFor(n int) map[string]queue.Item {
	out := make(map[string]queue.Item, n)
	for i := 0; i < n; i++ {
		k := "k" + strconv.Itoa(i)
		out[k] = queue.Item{ID: k, Payload: queue.Payload{queue.KeyField: k}}
	}
	return out
}

func TestNew_RequiresLookup(t *testing.T) {
	if _, err := New(nil, 50, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDedupe_ChunksLookups(t *testing.T) {
	cases := []struct{ n, want int }{{0, 0}, {1, 1}, {50, 1}, {51, 2}, {120, 3}}
	for _, tc := range cases {
		f := &fakeLookup{}
		d, _ := New(f, DefaultChunkSize, nil, nil)
		if _, err := d.Dedupe(context.Background(), schema.SignatureValidations, itemsFor(tc.n)); err != nil {
			t.Fatalf("Dedupe: %v", err)
		}
		if len(f.calls) != tc.want {
			t.Fatalf("n=%d: expected %d lookups, got %d", tc.n, tc.want, len(f.calls))
		}
		for _, c := range f.calls {
			if len(c) > DefaultChunkSize {
				t.Fatalf("chunk too large: %d", len(c))
			}
			if !sort.StringsAreSorted(c) {
				t.Fatalf("chunk keys not sorted: %v", c)
			}
		}
	}
}

func TestDedupe_RemovesPersistedKeys(t *testing.T) {
	f := &fakeLookup{existing: map[string]bool{"k1": true, "k3": true}}
	mem := metrics.NewMemory()
	d, _ := New(f, 2, mem, nil)
	in := itemsFor(5)

	out, err := d.Dedupe(context.Background(), schema.SignatureValidations, in)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(out))
	}
	if _, ok := out["k1"]; ok {
		t.Fatalf("persisted key survived")
	}
	if len(in) != 5 {
		t.Fatalf("input map was modified")
	}
	if got := mem.Counter("deduplicator.signature_validations.duplicates"); got != 2 {
		t.Fatalf("expected duplicates=2, got %d", got)
	}
	if got := mem.Counter("deduplicator.signature_validations.lookups"); got != 3 {
		t.Fatalf("expected lookups=3, got %d", got)
	}
}

func TestDedupe_LookupErrorAborts(t *testing.T) {
	boom := errors.New("db down")
	d, _ := New(&fakeLookup{err: boom}, 50, nil, nil)
	if _, err := d.Dedupe(context.Background(), schema.SignatureValidations, itemsFor(3)); !errors.Is(err, boom) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestDedupe_UnknownTable(t *testing.T) {
	f := &fakeLookup{}
	d, _ := New(f, 50, nil, nil)
	if _, err := d.Dedupe(context.Background(), schema.Table("nope"), itemsFor(1)); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.calls) != 0 {
		t.Fatalf("no lookup expected for unknown table")
	}
}

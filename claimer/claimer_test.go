package claimer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/baldanca/petition-preprocessor/metrics"
	"github.com/baldanca/petition-preprocessor/queue"
)

//
// Fakes
//

type fakeBackend struct {
	name    string
	pending []queue.Item

	countErr error
	claimErr error

	claimCalls int
	deleted    []queue.Item
}

func (f *fakeBackend) Name() string                                 { return f.name }
func (f *fakeBackend) CreateQueue(context.Context) error            { return nil }
func (f *fakeBackend) Enqueue(context.Context, queue.Payload) error { return nil }

func (f *fakeBackend) Count(context.Context) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return int64(len(f.pending)), nil
}

func (f *fakeBackend) ClaimOne(context.Context) (queue.Item, bool, error) {
	f.claimCalls++
	if f.claimErr != nil {
		return queue.Item{}, false, f.claimErr
	}
	if len(f.pending) == 0 {
		return queue.Item{}, false, nil
	}
	it := f.pending[0]
	f.pending = f.pending[1:]
	return it, true, nil
}

func (f *fakeBackend) DeleteOne(_ context.Context, it queue.Item) error {
	f.deleted = append(f.deleted, it)
	return nil
}

type fakeBulk struct {
	fakeBackend
	ceiling   int
	requested []int
	bulkDels  int
}

func (f *fakeBulk) MaxBatch() int { return f.ceiling }

func (f *fakeBulk) ClaimMany(_ context.Context, max int) ([]queue.Item, error) {
	f.claimCalls++
	f.requested = append(f.requested, max)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	n := min(max, f.ceiling, len(f.pending))
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeBulk) DeleteMany(_ context.Context, items []queue.Item) error {
	f.bulkDels++
	f.deleted = append(f.deleted, items...)
	return nil
}

func keyed(keys ...string) []queue.Item {
	out := make([]queue.Item, len(keys))
	for i, k := range keys {
		out[i] = queue.Item{
			ID:      "id" + strconv.Itoa(i),
			Handle:  "h" + strconv.Itoa(i),
			Payload: queue.Payload{queue.KeyField: k},
		}
	}
	return out
}

func manyKeys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "k" + strconv.Itoa(i)
	}
	return out
}

//
// Tests
//

func TestClaimBatch_EmptyQueueShortCircuits(t *testing.T) {
	mem := metrics.NewMemory()
	c := New(DefaultConfig, mem, nil)
	b := &fakeBulk{fakeBackend: fakeBackend{name: "validations"}, ceiling: 10}

	batch, err := c.ClaimBatch(context.Background(), b, 100)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if !batch.Empty() {
		t.Fatalf("expected empty batch")
	}
	if b.claimCalls != 0 {
		t.Fatalf("expected zero claim calls, got %d", b.claimCalls)
	}
	if mem.Counter("claimer.validations.caught_up") != 1 {
		t.Fatalf("expected caught_up event")
	}
}

func TestClaimBatch_BulkCallCountIsCeilNOverC(t *testing.T) {
	cases := []struct {
		n, ceiling, wantCalls int
	}{
		{25, 10, 3},
		{20, 10, 2},
		{7, 10, 1},
		{9, 4, 3},
	}
	for _, tc := range cases {
		b := &fakeBulk{fakeBackend: fakeBackend{name: "q", pending: keyed(manyKeys(tc.n + 5)...)}, ceiling: tc.ceiling}
		c := New(DefaultConfig, nil, nil)

		batch, err := c.ClaimBatch(context.Background(), b, tc.n)
		if err != nil {
			t.Fatalf("ClaimBatch: %v", err)
		}
		if len(batch.Items) != tc.n {
			t.Fatalf("n=%d: expected %d items, got %d", tc.n, tc.n, len(batch.Items))
		}
		if b.claimCalls != tc.wantCalls {
			t.Fatalf("n=%d c=%d: expected %d calls, got %d", tc.n, tc.ceiling, tc.wantCalls, b.claimCalls)
		}
		for _, r := range b.requested {
			if r > tc.ceiling {
				t.Fatalf("request %d exceeds ceiling %d", r, tc.ceiling)
			}
		}
	}
}

func TestClaimBatch_BulkChunkConfigCapsRequests(t *testing.T) {
	b := &fakeBulk{fakeBackend: fakeBackend{name: "q", pending: keyed(manyKeys(12)...)}, ceiling: 100}
	c := New(Config{BulkChunk: 5}, nil, nil)

	if _, err := c.ClaimBatch(context.Background(), b, 12); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	want := []int{5, 5, 2}
	if len(b.requested) != len(want) {
		t.Fatalf("unexpected requests %v", b.requested)
	}
	for i := range want {
		if b.requested[i] != want[i] {
			t.Fatalf("unexpected requests %v", b.requested)
		}
	}
}

func TestClaimBatch_StopsWhenQueueRunsDry(t *testing.T) {
	b := &fakeBulk{fakeBackend: fakeBackend{name: "q", pending: keyed(manyKeys(13)...)}, ceiling: 10}
	c := New(DefaultConfig, nil, nil)

	batch, err := c.ClaimBatch(context.Background(), b, 100)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(batch.Items) != 13 {
		t.Fatalf("expected 13 items, got %d", len(batch.Items))
	}
	// 10, 3, then an empty response
	if b.claimCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", b.claimCalls)
	}
}

func TestClaimBatch_SingleItemBackend(t *testing.T) {
	items := keyed("a", "b", "c")
	items = append(items, queue.Item{ID: "broken", Handle: "hb"})
	b := &fakeBackend{name: "signatures", pending: items}
	mem := metrics.NewMemory()
	c := New(DefaultConfig, mem, nil)

	batch, err := c.ClaimBatch(context.Background(), b, 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(batch.Items) != 3 {
		t.Fatalf("expected 3 keyed items, got %d", len(batch.Items))
	}
	if len(batch.Dropped) != 1 || batch.Dropped[0].ID != "broken" {
		t.Fatalf("expected malformed item dropped, got %#v", batch.Dropped)
	}
	// 4 items plus the empty claim
	if b.claimCalls != 5 {
		t.Fatalf("expected 5 ClaimOne calls, got %d", b.claimCalls)
	}
	if got := mem.Counter("claimer.signatures.claimed"); got != 4 {
		t.Fatalf("expected claimed=4, got %d", got)
	}
	if got, _ := mem.LastGauge("claimer.signatures.depth"); got != 4 {
		t.Fatalf("expected depth gauge 4, got %d", got)
	}
	if got, _ := mem.LastGauge("claimer.signatures.batch_size"); got != 3 {
		t.Fatalf("expected batch_size gauge 3, got %d", got)
	}
}

func TestClaimBatch_KeysAndSupersedes(t *testing.T) {
	items := keyed("a", "b", "a")
	items = append(items,
		queue.Item{ID: "blank", Payload: queue.Payload{queue.KeyField: "  "}},
		queue.Item{ID: "numeric", Payload: queue.Payload{queue.KeyField: 12.0}},
		queue.Item{ID: "missing", Payload: queue.Payload{"email": "x@example.com"}},
	)
	b := &fakeBackend{name: "q", pending: items}
	mem := metrics.NewMemory()
	c := New(DefaultConfig, mem, nil)
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	batch, err := c.ClaimBatch(context.Background(), b, 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(batch.Items) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(batch.Items))
	}
	if batch.Items["a"].ID != "id2" {
		t.Fatalf("expected later claim to win, got %s", batch.Items["a"].ID)
	}
	if len(batch.Superseded) != 1 || batch.Superseded[0].ID != "id0" {
		t.Fatalf("unexpected superseded %#v", batch.Superseded)
	}
	if len(batch.Dropped) != 3 {
		t.Fatalf("expected 3 dropped, got %d", len(batch.Dropped))
	}
	if len(batch.Claimed()) != 6 {
		t.Fatalf("expected 6 claimed in total, got %d", len(batch.Claimed()))
	}
	if got := batch.Items["b"].Payload[ObservedAtField]; got != now.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected observed stamp %#v", got)
	}
	if mem.Counter("claimer.q.dropped") != 3 {
		t.Fatalf("expected dropped=3")
	}
}

func TestClaimBatch_KeysUseStoredForm(t *testing.T) {
	long := strings.Repeat("x", 64)
	items := keyed(" k-1 ", "e\u0301", long+"-first", long+"-second", "\x00k-2\x07")
	b := &fakeBackend{name: "q", pending: items}

	batch, err := New(DefaultConfig, nil, nil).ClaimBatch(context.Background(), b, 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}

	want := map[string]string{
		"k-1":    "id0",
		"\u00e9": "id1",
		long:     "id3",
		"k-2":    "id4",
	}
	if len(batch.Items) != len(want) {
		t.Fatalf("unexpected keys %v", batch.Items)
	}
	for key, id := range want {
		it, ok := batch.Items[key]
		if !ok || it.ID != id {
			t.Fatalf("key %q: expected %s, got %#v", key, id, it)
		}
		if it.Payload[queue.KeyField] != key {
			t.Fatalf("key %q not written back, payload has %#v", key, it.Payload[queue.KeyField])
		}
	}
	if len(batch.Superseded) != 1 || batch.Superseded[0].ID != "id2" {
		t.Fatalf("keys sharing the stored prefix must collapse, superseded=%#v", batch.Superseded)
	}
}

func TestClaimBatch_DoesNotMutateBackendPayload(t *testing.T) {
	items := keyed("a")
	orig := items[0].Payload
	b := &fakeBackend{name: "q", pending: items}

	if _, err := New(DefaultConfig, nil, nil).ClaimBatch(context.Background(), b, 1); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if _, ok := orig[ObservedAtField]; ok {
		t.Fatalf("stamp leaked into source payload")
	}
}

func TestClaimBatch_BackendErrorsAbort(t *testing.T) {
	boom := errors.New("boom")

	b := &fakeBackend{name: "q", countErr: boom}
	if _, err := New(DefaultConfig, nil, nil).ClaimBatch(context.Background(), b, 5); !errors.Is(err, boom) {
		t.Fatalf("expected count error, got %v", err)
	}

	bulk := &fakeBulk{fakeBackend: fakeBackend{name: "q", pending: keyed("a"), claimErr: boom}, ceiling: 10}
	if _, err := New(DefaultConfig, nil, nil).ClaimBatch(context.Background(), bulk, 5); !errors.Is(err, boom) {
		t.Fatalf("expected claim error, got %v", err)
	}
}

func TestDelete_UsesBulkWhenAvailable(t *testing.T) {
	c := New(DefaultConfig, nil, nil)

	bulk := &fakeBulk{fakeBackend: fakeBackend{name: "q"}, ceiling: 10}
	if err := c.Delete(context.Background(), bulk, keyed("a", "b", "c")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if bulk.bulkDels != 1 || len(bulk.deleted) != 3 {
		t.Fatalf("expected one bulk delete of 3, got calls=%d deleted=%d", bulk.bulkDels, len(bulk.deleted))
	}

	single := &fakeBackend{name: "q"}
	if err := c.Delete(context.Background(), single, keyed("a", "b")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(single.deleted) != 2 {
		t.Fatalf("expected 2 single deletes, got %d", len(single.deleted))
	}

	if err := c.Delete(context.Background(), bulk, nil); err != nil || bulk.bulkDels != 1 {
		t.Fatalf("empty delete must be a no-op")
	}
}
